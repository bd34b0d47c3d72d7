package discovery

// ServiceDef describes one cloud service the discovery loop can enumerate.
// Global services are account-scoped and only listed once per sync, against
// the first enabled region.
type ServiceDef struct {
	Name    string
	Queries []string
	Global  bool
}

// Registry is the fixed set of supported services, in sync order. Network
// primitives come first so relationship targets exist by the time dependent
// resources are normalized.
var Registry = []ServiceDef{
	{
		Name:    "EC2",
		Queries: []string{"vpcs", "subnets", "security_groups", "instances", "volumes"},
	},
	{
		Name:    "S3",
		Queries: []string{"buckets"},
		Global:  true,
	},
	{
		Name:    "RDS",
		Queries: []string{"db_instances"},
	},
	{
		Name:    "Lambda",
		Queries: []string{"functions"},
	},
	{
		Name:    "IAM",
		Queries: []string{"users", "roles"},
		Global:  true,
	},
	{
		Name:    "KMS",
		Queries: []string{"keys"},
	},
}

// ServiceNames returns the registry's service names in order.
func ServiceNames() []string {
	names := make([]string, len(Registry))
	for i, def := range Registry {
		names[i] = def.Name
	}
	return names
}

// LookupService returns the definition for a service name, or false when the
// service is not in the registry.
func LookupService(name string) (ServiceDef, bool) {
	for _, def := range Registry {
		if def.Name == name {
			return def, true
		}
	}
	return ServiceDef{}, false
}
