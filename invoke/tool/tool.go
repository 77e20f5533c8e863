// Package tool defines the contract between the invocation runtime and the
// tools it executes: descriptors, argument schemas, the error taxonomy, and
// the registry used for fallback resolution.
package tool

import "context"

// Tool is an executable operation exposed by a domain integration.
//
// A Tool pairs an immutable Descriptor (name, argument schema, timeout and
// retry bounds, optional fallback) with the opaque call that performs the
// actual work. The runtime never looks inside Invoke: it validates arguments
// against the descriptor, enforces the timeout, and classifies whatever comes
// back.
//
// Implementations should:
//   - Respect context cancellation and deadlines
//   - Return structured output as map[string]interface{}
//   - Report failure categories with *Error when they know them; plain
//     errors are classified as unknown
//
// Example implementation:
//
//	type WeatherTool struct{ desc tool.Descriptor }
//
//	func (w *WeatherTool) Describe() tool.Descriptor { return w.desc }
//
//	func (w *WeatherTool) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
//	    city, _ := args["city"].(string)
//	    temp, err := fetchTemperature(ctx, city)
//	    if err != nil {
//	        return nil, tool.Errorf(tool.KindNetwork, "weather lookup failed: %v", err)
//	    }
//	    return map[string]interface{}{"city": city, "temperature": temp}, nil
//	}
type Tool interface {
	// Describe returns the tool's immutable descriptor.
	//
	// The descriptor must be stable across calls: the runtime reads it on
	// every invocation and shares it freely between goroutines.
	Describe() Descriptor

	// Invoke executes the tool with the provided arguments.
	//
	// The context carries the per-attempt deadline imposed by the runtime;
	// implementations should abandon work when it is done. Returning a
	// *Error lets the implementation name the failure category, anything
	// else is treated as an unclassified failure.
	Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// InvokeFunc is the signature of a tool's underlying call.
type InvokeFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// funcTool adapts a plain function to the Tool interface.
type funcTool struct {
	desc Descriptor
	fn   InvokeFunc
}

// New binds a descriptor to a function, producing a Tool.
//
// This is the lightweight way to expose an integration without defining a
// named type:
//
//	echo := tool.New(
//	    tool.NewDescriptor("echo", tool.WithSchema(schema)),
//	    func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
//	        return map[string]interface{}{"echo": args["message"]}, nil
//	    },
//	)
func New(desc Descriptor, fn InvokeFunc) Tool {
	return &funcTool{desc: desc, fn: fn}
}

func (f *funcTool) Describe() Descriptor { return f.desc }

func (f *funcTool) Invoke(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return f.fn(ctx, args)
}
