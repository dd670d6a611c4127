package factory

import "alertflow/pkg/models"

const fallbackTitle = "Security Incident Investigation"

var titleTemplates = map[string]string{
	"failed_login":         "Investigate Failed Login Attempts",
	"brute_force":          "Brute Force Attack Response",
	"sql_injection":        "SQL Injection Attack Response",
	"privilege_escalation": "Privilege Escalation Investigation",
	"data_exfiltration":    "Potential Data Exfiltration Investigation",
	"malware_detected":     "Malware Detection Response",
	"suspicious_request":   "Suspicious Request Review",
	"rate_limiting":        "Rate Limit Violation Review",
	"port_scan":            "Port Scan Activity Review",
	"anomalous_traffic":    "Anomalous Traffic Review",
}

var baseChecklist = []string{
	"Review alert details and raw evidence",
	"Verify the alert is not a false positive",
	"Identify affected systems and users",
	"Determine scope and timeline of the activity",
	"Document findings and update the task",
}

var patternChecklist = map[string][]string{
	"failed_login": {
		"Check whether the targeted accounts are locked out",
		"Review successful logins from the same source IP",
		"Confirm password policy and MFA status of targeted accounts",
	},
	"brute_force": {
		"Count distinct accounts targeted from the source",
		"Review successful logins from the same source IP",
	},
	"sql_injection": {
		"Review web server and WAF logs for the request",
		"Check database audit logs for unexpected queries",
		"Identify the vulnerable parameter and endpoint",
		"Verify whether data was read or modified",
	},
	"privilege_escalation": {
		"Review recent permission and group membership changes",
		"Audit commands executed with elevated privileges",
		"Verify the change was not an approved request",
	},
	"data_exfiltration": {
		"Quantify the volume and destination of transferred data",
		"Identify the data classification of accessed resources",
		"Review the user's recent access patterns",
	},
	"malware_detected": {
		"Isolate the affected host from the network",
		"Collect the sample hash and submit for analysis",
		"Scan peer hosts for the same indicators",
	},
}

var patternActions = map[string][]string{
	"failed_login": {
		"Temporarily block the source IP",
		"Force a password reset for targeted accounts",
	},
	"brute_force": {
		"Block the source IP at the perimeter",
		"Enable account lockout thresholds",
	},
	"sql_injection": {
		"Block the source IP at the WAF",
		"Patch or parameterize the vulnerable query",
		"Rotate database credentials if compromise is suspected",
	},
	"privilege_escalation": {
		"Revoke the escalated privileges",
		"Suspend the account pending review",
	},
	"data_exfiltration": {
		"Suspend the account's outbound access",
		"Engage the data protection officer",
	},
	"malware_detected": {
		"Quarantine the affected host",
		"Reimage the host after evidence collection",
	},
	"rate_limiting": {
		"Review rate limit thresholds for the endpoint",
	},
}

var patternTaskTypes = map[string]models.TaskType{
	"compliance_violation": models.TaskCompliance,
	"policy_violation":     models.TaskCompliance,
	"vulnerability":        models.TaskRemediation,
	"misconfiguration":     models.TaskRemediation,
	"certificate_expiry":   models.TaskMaintenance,
}
