package refs

// Kind is the prefix of an external backtick token.
type Kind string

const (
	KindFaction  Kind = "faction"
	KindHireling Kind = "hireling"
	KindItem     Kind = "item"
)

// Mapping ties one external key to its internal {{token}} name.
type Mapping struct {
	Kind  Kind
	Key   string
	Token string
}

// External renders the mapping in the upstream backtick notation.
func (m Mapping) External() string {
	return "`" + string(m.Kind) + ":" + m.Key + "`"
}

// Internal renders the mapping as a bracket token.
func (m Mapping) Internal() string {
	return "{{" + m.Token + "}}"
}

// Table is ordered: when two external keys share a token, the first entry
// wins the outbound direction.
var Table = []Mapping{
	{KindFaction, "marquise", "cats"},
	{KindFaction, "eyrie", "birds"},
	{KindFaction, "woodland", "alliance"},
	{KindFaction, "vagabond", "vagabond"},
	{KindFaction, "lizards", "lizards"},
	{KindFaction, "riverfolk", "otters"},
	{KindFaction, "duchy", "moles"},
	{KindFaction, "corvids", "crows"},
	{KindFaction, "hundreds", "rats"},
	{KindFaction, "keepers", "badgers"},
	{KindFaction, "lilypad", "frogs"},
	{KindFaction, "council", "bats"},
	{KindFaction, "knaves", "knaves"},

	{KindHireling, "patrol", "patrol"},
	{KindHireling, "dynasty", "last_dynasty"},
	{KindHireling, "uprising", "spring_uprising"},
	{KindHireling, "vaultkeepers", "vault_keepers"},
	{KindHireling, "exile", "exile"},
	{KindHireling, "prophets", "prophets"},
	{KindHireling, "brigand", "brigand"},
	{KindHireling, "bandit", "bandit_gangs"},
	{KindHireling, "diaspora", "flame_bearers"},
	{KindHireling, "flotilla", "riverfolk_flotilla"},
	{KindHireling, "highway", "highway_bandits"},
	{KindHireling, "princes", "warm_sun_prophets"},

	{KindItem, "boot", "boot"},
	{KindItem, "sword", "sword"},
	{KindItem, "crossbow", "crossbow"},
	{KindItem, "hammer", "hammer"},
	{KindItem, "tea", "tea"},
	{KindItem, "coins", "coins"},
	{KindItem, "bag", "bag"},
	{KindItem, "torch", "torch"},
	{KindItem, "any", "any_item"},
}

var (
	inboundIndex  = map[Kind]map[string]Mapping{}
	outboundIndex = map[string]Mapping{}
)

func init() {
	for _, mapping := range Table {
		if inboundIndex[mapping.Kind] == nil {
			inboundIndex[mapping.Kind] = map[string]Mapping{}
		}
		if _, ok := inboundIndex[mapping.Kind][mapping.Key]; !ok {
			inboundIndex[mapping.Kind][mapping.Key] = mapping
		}
		if _, ok := outboundIndex[mapping.Token]; !ok {
			outboundIndex[mapping.Token] = mapping
		}
	}
}

// Lookup returns the mapping for an external kind and key.
func Lookup(kind Kind, key string) (Mapping, bool) {
	mapping, ok := inboundIndex[kind][key]
	return mapping, ok
}

// LookupToken returns the mapping for an internal token name.
func LookupToken(token string) (Mapping, bool) {
	mapping, ok := outboundIndex[token]
	return mapping, ok
}
