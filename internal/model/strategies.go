package model

// The names of the built-in strategy definitions.
const (
	StrategyDefault             = "default"
	StrategyUserWithID          = "userWithId"
	StrategyFlexibleRollout     = "flexibleRollout"
	StrategyRemoteAddress       = "remoteAddress"
	StrategyApplicationHostname = "applicationHostname"
)

// BuiltInStrategies returns the strategy definitions every installation starts with. They cannot be
// updated or deleted.
func BuiltInStrategies() []StrategyDefinition {
	return []StrategyDefinition{
		{
			Name:        StrategyDefault,
			DisplayName: "Standard",
			Description: "The standard strategy is strictly on or off for your entire userbase.",
			Parameters:  []StrategyParameter{},
			BuiltIn:     true,
		},
		{
			Name:        StrategyUserWithID,
			DisplayName: "UserIDs",
			Description: "Enable the feature for a specific set of userIds.",
			Parameters: []StrategyParameter{
				{Name: "userIds", Type: ParamList, Description: "", Required: false},
			},
			BuiltIn: true,
		},
		{
			Name:        StrategyFlexibleRollout,
			DisplayName: "Gradual rollout",
			Description: "Roll out to a percentage of your userbase, grouped by a stickiness field.",
			Parameters: []StrategyParameter{
				{Name: "rollout", Type: ParamPercentage, Required: false},
				{Name: "stickiness", Type: ParamString, Description: "Used to define stickiness", Required: true},
				{Name: "groupId", Type: ParamString, Required: true},
			},
			BuiltIn: true,
		},
		{
			Name:        StrategyRemoteAddress,
			DisplayName: "IPs",
			Description: "Enable the feature for a specific set of IP addresses.",
			Parameters: []StrategyParameter{
				{Name: "IPs", Type: ParamList, Description: "List of IPs to enable the feature toggle for.", Required: true},
			},
			BuiltIn: true,
		},
		{
			Name:        StrategyApplicationHostname,
			DisplayName: "Hosts",
			Description: "Enable the feature for a specific set of hostnames.",
			Parameters: []StrategyParameter{
				{Name: "hostNames", Type: ParamList, Description: "List of hostnames to enable the feature toggle for.", Required: false},
			},
			BuiltIn: true,
		},
	}
}

// DefaultEnvironments returns the environments every installation starts with.
func DefaultEnvironments() []Environment {
	return []Environment{
		{Name: "development", Type: "development", Enabled: true, SortOrder: 100},
		{Name: "production", Type: "production", Enabled: true, SortOrder: 200},
	}
}
