package skill

// Schematized is an optional extension a Skill may implement to declare a
// JSON Schema for its params. The skill executor validates decoded params against
// this schema, when present, before the material-estimation phase runs.
type Schematized interface {
	Skill
	ParamSchema() []byte
}
