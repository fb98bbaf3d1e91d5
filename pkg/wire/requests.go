package wire

// SourceEntry is the wire form of module.SourceEntry: one named file in an
// inline source-code bundle.
type SourceEntry struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Bytes       []byte `json:"bytes"`
}

// ModuleReference is a module body on the wire: either an inline
// source-code bundle or a hex Module ID referencing a pre-built artifact.
// Exactly one of SourceCode/ModuleID is set.
type ModuleReference struct {
	SourceCode []SourceEntry `json:"source_code,omitempty"`
	ModuleID   *string       `json:"module_id,omitempty"`
}

// InstantiateModuleRequest is the Runtime service's InstantiateModule
// request body. DefaultInputLabels carries the IFC label each DefaultInput
// key was bound with; a key absent from it defaults to value.Bottom() on
// the receiving end, per the wire boundary's documented label default.
type InstantiateModuleRequest struct {
	Target             string            `json:"target"`
	ModuleReference    ModuleReference   `json:"module_reference"`
	DefaultInput       map[string]Value  `json:"default_input"`
	DefaultInputLabels map[string]Label  `json:"default_input_labels,omitempty"`
	OutputShape        map[string]string `json:"output_shape"`
}

// InstantiateModuleResponse is the Runtime service's InstantiateModule
// response body.
type InstantiateModuleResponse struct {
	ModuleID   string `json:"module_id"`
	InstanceID string `json:"instance_id"`
}

// RunModuleRequest is the Runtime service's RunModule request body.
// InputLabels mirrors InstantiateModuleRequest.DefaultInputLabels: a key
// absent from it is treated as value.Bottom() on the receiving end.
type RunModuleRequest struct {
	InstanceID  string           `json:"instance_id"`
	Input       map[string]Value `json:"input"`
	InputLabels map[string]Label `json:"input_labels,omitempty"`
}

// RunModuleResponse is the Runtime service's RunModule response body.
// OutputLabels carries each output key's propagated IFC label, the safe
// over-approximation joined from every declared input.
type RunModuleResponse struct {
	Output       map[string]Value `json:"output"`
	OutputLabels map[string]Label `json:"output_labels,omitempty"`
}

// BuildComponentRequest is the Build service's BuildComponent request body.
type BuildComponentRequest struct {
	ModuleReference     ModuleReference `json:"module_reference"`
	BundleCommonImports bool            `json:"bundle_common_imports"`
}

// BuildComponentResponse is the Build service's BuildComponent response
// body.
type BuildComponentResponse struct {
	ComponentID string `json:"component_id"`
}

// ReadComponentRequest is the Build service's ReadComponent request body.
type ReadComponentRequest struct {
	ComponentID string `json:"component_id"`
}

// ReadComponentResponse is the Build service's ReadComponent response body.
type ReadComponentResponse struct {
	Component []byte  `json:"component"`
	SourceMap *string `json:"source_map,omitempty"`
}

// BundleSourceCodeRequest is the Build service's BundleSourceCode request
// body.
type BundleSourceCodeRequest struct {
	ContentType string `json:"content_type"`
	Source      []byte `json:"source"`
}

// BundleSourceCodeResponse is the Build service's BundleSourceCode response
// body.
type BundleSourceCodeResponse struct {
	BundledSource []byte `json:"bundled_source"`
}
