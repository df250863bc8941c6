package subject

import (
	"encoding/json"
)

// admissionReview is the subset of a Kubernetes AdmissionReview envelope
// the builder reads. Transport, TLS, and the response envelope are owned by
// the caller.
type admissionReview struct {
	Request *struct {
		UID       string          `json:"uid"`
		Namespace string          `json:"namespace"`
		Object    json.RawMessage `json:"object"`
	} `json:"request"`
}

type k8sObject struct {
	Kind     string `json:"kind"`
	Metadata *struct {
		Name        string         `json:"name"`
		Namespace   string         `json:"namespace"`
		Labels      map[string]any `json:"labels"`
		Annotations map[string]any `json:"annotations"`
	} `json:"metadata"`
	Spec map[string]any `json:"spec"`
}

// FromAdmissionReview normalizes the object carried by an AdmissionReview.
// The request UID is returned alongside the context so the caller can echo
// it in the response envelope.
func FromAdmissionReview(raw []byte) (*Context, string, error) {
	var review admissionReview
	if err := json.Unmarshal(raw, &review); err != nil {
		return nil, "", &MalformedInputError{Field: "request", Err: err}
	}
	if review.Request == nil {
		return nil, "", &MalformedInputError{Field: "request"}
	}
	if len(review.Request.Object) == 0 {
		return nil, "", &MalformedInputError{Field: "request.object"}
	}

	ctx, err := FromObject(review.Request.Object)
	if err != nil {
		return nil, "", err
	}
	if ctx.Namespace == "" {
		ctx.Namespace = review.Request.Namespace
	}
	return ctx, review.Request.UID, nil
}

// FromObject normalizes a bare Kubernetes object (a manifest or the object
// embedded in an admission request). Kind and metadata are required
// structural fields.
func FromObject(raw []byte) (*Context, error) {
	var obj k8sObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, &MalformedInputError{Field: "object", Err: err}
	}
	if obj.Kind == "" {
		return nil, &MalformedInputError{Field: "kind"}
	}
	if obj.Metadata == nil {
		return nil, &MalformedInputError{Field: "metadata"}
	}

	labels, err := stringMap("metadata.labels", obj.Metadata.Labels)
	if err != nil {
		return nil, err
	}
	annotations, err := stringMap("metadata.annotations", obj.Metadata.Annotations)
	if err != nil {
		return nil, err
	}

	spec := obj.Spec
	if spec == nil {
		spec = map[string]any{}
	}

	return &Context{
		Kind:        obj.Kind,
		Namespace:   obj.Metadata.Namespace,
		Name:        obj.Metadata.Name,
		Labels:      labels,
		Annotations: annotations,
		Tags:        map[string]string{},
		Spec:        spec,
	}, nil
}
