package entities

// ImplicationRule describes how one flag constrains the others of its cell
// Example: edit => {ImpliesWhenTrue: read, ForcesFalseWhenFalse: delete, modifyAll}
type ImplicationRule struct {
	ImpliesWhenTrue      FlagSet // Flags that must be enabled when this flag is enabled
	ForcesFalseWhenFalse FlagSet // Flags that must be disabled when this flag is disabled
}

// RuleTable maps each flag of a kind to its implication rule
type RuleTable map[Flag]ImplicationRule

var objectRules = RuleTable{
	FlagCreate: {
		ImpliesWhenTrue: NewFlagSet(FlagRead),
	},
	FlagRead: {
		ForcesFalseWhenFalse: NewFlagSet(FlagCreate, FlagEdit, FlagDelete, FlagViewAll, FlagModifyAll),
	},
	FlagEdit: {
		ImpliesWhenTrue:      NewFlagSet(FlagRead),
		ForcesFalseWhenFalse: NewFlagSet(FlagDelete, FlagModifyAll),
	},
	FlagDelete: {
		ImpliesWhenTrue:      NewFlagSet(FlagRead, FlagEdit),
		ForcesFalseWhenFalse: NewFlagSet(FlagModifyAll),
	},
	FlagViewAll: {
		ImpliesWhenTrue:      NewFlagSet(FlagRead),
		ForcesFalseWhenFalse: NewFlagSet(FlagModifyAll),
	},
	FlagModifyAll: {
		ImpliesWhenTrue: NewFlagSet(FlagRead, FlagEdit, FlagDelete, FlagViewAll),
	},
}

var fieldRules = RuleTable{
	FlagRead: {
		ForcesFalseWhenFalse: NewFlagSet(FlagEdit),
	},
	FlagEdit: {
		ImpliesWhenTrue: NewFlagSet(FlagRead),
	},
}

var recordTypeRules = RuleTable{
	FlagVisible: {
		ForcesFalseWhenFalse: NewFlagSet(FlagDefault),
	},
	FlagDefault: {
		ImpliesWhenTrue: NewFlagSet(FlagVisible),
	},
}

// RulesFor returns the implication table of a kind
func RulesFor(kind Kind) RuleTable {
	switch kind {
	case KindObject:
		return objectRules
	case KindField:
		return fieldRules
	case KindRecordType:
		return recordTypeRules
	default:
		return RuleTable{}
	}
}

// Consistent reports whether every enabled flag in s has its implied flags enabled
func (t RuleTable) Consistent(s FlagSet) bool {
	for f, rule := range t {
		if s.Has(f) && s&rule.ImpliesWhenTrue != rule.ImpliesWhenTrue {
			return false
		}
	}
	return true
}
