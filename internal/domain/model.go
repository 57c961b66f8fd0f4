package domain

// Model is one entry of the chat service's model list.
type Model struct {
	ID      int
	Name    string
	Display string
	IsPro   bool
	Active  bool
}

// DefaultModel picks the first model that is active and not pro-gated.
func DefaultModel(models []Model) (Model, error) {
	for _, model := range models {
		if model.Active && !model.IsPro {
			return model, nil
		}
	}
	return Model{}, ErrNoSuitableModel
}
