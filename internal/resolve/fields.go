package resolve

// Alias tables. Order is priority: the first present source wins.
var (
	CheckID = Field{Name: "check_id", Aliases: []Path{
		{"check_id"},
		{"rule_id"},
		{"metadata", "event_code"},
		{"finding", "uid"},
	}}

	Title = Field{Name: "title", Aliases: []Path{
		{"check_title"},
		{"title"},
	}}

	Provider = Field{Name: "provider", Aliases: []Path{
		{"provider"},
		{"cloud", "provider"},
	}}

	Service = Field{Name: "service", Aliases: []Path{
		{"service"},
		{"service_name"},
		{"resources", "0", "group", "name"},
		{"resource", "service"},
	}}

	Severity = Field{Name: "severity", Aliases: []Path{
		{"severity"},
	}}

	Status = Field{Name: "status", Aliases: []Path{
		{"status"},
		{"status_code"},
	}}

	AccountID = Field{Name: "account_id", Aliases: []Path{
		{"account_id"},
		{"account_uid"},
		{"cloud", "account", "uid"},
		{"resources", "0", "account_uid"},
	}}

	SubscriptionID = Field{Name: "subscription_id", Aliases: []Path{
		{"subscription_id"},
		{"subscription"},
	}}

	ProjectID = Field{Name: "project_id", Aliases: []Path{
		{"project_id"},
		{"project"},
	}}

	Region = Field{Name: "region", Aliases: []Path{
		{"region"},
		{"cloud", "region"},
		{"resources", "0", "region"},
		{"resource", "region"},
	}}

	ResourceID = Field{Name: "resource_id", Aliases: []Path{
		{"resource_id"},
		{"resource_uid"},
		{"resource", "uid"},
		{"resources", "0", "uid"},
	}}

	ResourceARN = Field{Name: "resource_arn", Aliases: []Path{
		{"resource_arn"},
		{"arn"},
	}}

	Risk = Field{Name: "risk", Aliases: []Path{
		{"risk"},
		{"risk_details"},
	}}

	// RemediationText accepts either a plain string or the object form.
	RemediationText = Field{Name: "remediation", Aliases: []Path{
		{"remediation"},
		{"remediation", "text"},
	}}

	RemediationURL = Field{Name: "remediation_url", Aliases: []Path{
		{"remediation", "url"},
	}}

	Timestamp = Field{Name: "timestamp", Aliases: []Path{
		{"timestamp"},
		{"time"},
	}}

	Description = Field{Name: "description", Aliases: []Path{
		{"description"},
		{"desc"},
		{"finding_info", "desc"},
		{"finding", "desc"},
		{"message"},
	}}

	Categories = Field{Name: "categories", Aliases: []Path{
		{"categories"},
		{"category"},
	}}
)

// frameworkSources are the members that may carry compliance associations.
var frameworkSources = []Path{
	{"frameworks"},
	{"compliance"},
	{"unmapped", "compliance"},
}
