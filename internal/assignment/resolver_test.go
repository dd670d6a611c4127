package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"alertflow/pkg/models"
)

func TestResolverPredicateOrder(t *testing.T) {
	r := NewResolver()

	cases := []struct {
		name string
		req  Request
		want string
	}{
		{"critical security incident beats incident type", Request{TaskType: models.TaskSecurityIncident, Priority: models.PriorityCritical, IncidentType: "failed_login"}, TeamLead},
		{"emergency security incident", Request{TaskType: models.TaskSecurityIncident, Priority: models.PriorityEmergency}, TeamLead},
		{"sql injection", Request{TaskType: models.TaskSecurityIncident, Priority: models.PriorityHigh, IncidentType: "sql_injection"}, SeniorAnalyst},
		{"failed login", Request{TaskType: models.TaskSecurityIncident, Priority: models.PriorityHigh, IncidentType: "failed_login"}, Analyst},
		{"privilege escalation", Request{TaskType: models.TaskInvestigation, Priority: models.PriorityLow, IncidentType: "privilege_escalation"}, SeniorAnalyst},
		{"critical non incident falls to priority", Request{TaskType: models.TaskMonitoring, Priority: models.PriorityCritical}, TeamLead},
		{"high", Request{TaskType: models.TaskMonitoring, Priority: models.PriorityHigh}, SeniorAnalyst},
		{"medium", Request{Priority: models.PriorityMedium}, Analyst},
		{"low", Request{Priority: models.PriorityLow}, JuniorAnalyst},
		{"emergency non incident", Request{TaskType: models.TaskMaintenance, Priority: models.PriorityEmergency}, JuniorAnalyst},
		{"rule assignee overrides", Request{TaskType: models.TaskSecurityIncident, Priority: models.PriorityCritical, RuleAssignee: "oncall_bob"}, "oncall_bob"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Resolve(tc.req))
		})
	}
}

func TestDescribe(t *testing.T) {
	r := NewResolver()
	a := r.Describe(SeniorAnalyst)
	assert.Equal(t, "Senior Security Analyst", a.Name)
	assert.Equal(t, "security_operations", a.Team)

	u := r.Describe("oncall_bob")
	assert.Equal(t, "oncall_bob", u.AssigneeID)
	assert.Empty(t, u.Team)
}
