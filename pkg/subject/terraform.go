package subject

import (
	"encoding/json"
	"fmt"
)

// resourceChange mirrors the fields of a Terraform plan resource_changes
// entry that the builder cares about. Everything under change.after is
// carried opaquely into the context spec.
type resourceChange struct {
	Address string `json:"address"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Change  struct {
		Actions []string       `json:"actions"`
		After   map[string]any `json:"after"`
	} `json:"change"`
}

// planDocument is the subset of a `terraform show -json` plan the builder
// reads.
type planDocument struct {
	ResourceChanges []json.RawMessage `json:"resource_changes"`
}

// FromTerraformResource normalizes a single planned resource change record.
// The resource type becomes the context kind, the Environment tag (when
// present) becomes the namespace, and the full post-apply attribute set is
// preserved in the spec fields.
func FromTerraformResource(raw []byte) (*Context, error) {
	var rc resourceChange
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, &MalformedInputError{Field: "resource_change", Err: err}
	}
	return fromResourceChange(&rc)
}

// FromTerraformPlan normalizes every resource change in a plan document.
// Changes whose only action is "delete" are skipped: a resource on its way
// out has no post-apply state to govern.
func FromTerraformPlan(raw []byte) ([]*Context, error) {
	var doc planDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &MalformedInputError{Field: "resource_changes", Err: err}
	}
	if doc.ResourceChanges == nil {
		return nil, &MalformedInputError{Field: "resource_changes"}
	}

	contexts := make([]*Context, 0, len(doc.ResourceChanges))
	for i, rawChange := range doc.ResourceChanges {
		var rc resourceChange
		if err := json.Unmarshal(rawChange, &rc); err != nil {
			return nil, &MalformedInputError{
				Field: fmt.Sprintf("resource_changes.%d", i),
				Err:   err,
			}
		}
		if isDeleteOnly(rc.Change.Actions) {
			continue
		}
		ctx, err := fromResourceChange(&rc)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

func fromResourceChange(rc *resourceChange) (*Context, error) {
	if rc.Type == "" {
		return nil, &MalformedInputError{Field: "type"}
	}

	tags := map[string]string{}
	if rawTags, ok := rc.Change.After["tags"].(map[string]any); ok {
		var err error
		tags, err = stringMap("tags", rawTags)
		if err != nil {
			return nil, err
		}
	}

	name := rc.Name
	if name == "" {
		name = rc.Address
	}

	return &Context{
		Kind:        rc.Type,
		Namespace:   tags["Environment"],
		Name:        name,
		Labels:      map[string]string{},
		Annotations: map[string]string{},
		Tags:        tags,
		Spec:        rc.Change.After,
	}, nil
}

func isDeleteOnly(actions []string) bool {
	if len(actions) == 0 {
		return false
	}
	for _, a := range actions {
		if a != "delete" {
			return false
		}
	}
	return true
}
