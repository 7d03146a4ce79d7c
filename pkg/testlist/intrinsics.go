package testlist

import "github.com/arccode/factory-sub002/pkg/value"

// Intrinsic definition names. Each one inherits itself and terminates
// every inheritance chain.
const (
	ClassFactoryTest       = "FactoryTest"
	ClassTestGroup         = "TestGroup"
	ClassAutomatedSequence = "AutomatedSequence"
	ClassOperatorTest      = "OperatorTest"
	ClassBarrier           = "Barrier"
	ClassShutdownStep      = "ShutdownStep"
	ClassRebootStep        = "RebootStep"
	ClassHaltStep          = "HaltStep"
	ClassFullRebootStep    = "FullRebootStep"
)

// ShutdownPytest is the pytest every shutdown step runs.
const ShutdownPytest = "shutdown"

func intrinsicDefinitions() map[string]interface{} {
	self := func(name string, fields map[string]interface{}) map[string]interface{} {
		out := map[string]interface{}{FieldInherit: name}
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	shutdown := func(name, operation string) map[string]interface{} {
		fields := map[string]interface{}{
			"pytest_name":  ShutdownPytest,
			"allow_reboot": true,
		}
		if operation != "" {
			fields["args"] = map[string]interface{}{"operation": operation}
		}
		return self(name, fields)
	}

	return map[string]interface{}{
		ClassFactoryTest:       self(ClassFactoryTest, nil),
		ClassTestGroup:         self(ClassTestGroup, map[string]interface{}{"retestable": true}),
		ClassAutomatedSequence: self(ClassAutomatedSequence, nil),
		ClassOperatorTest:      self(ClassOperatorTest, nil),
		ClassBarrier:           self(ClassBarrier, nil),
		ClassShutdownStep:      shutdown(ClassShutdownStep, ""),
		ClassRebootStep:        shutdown(ClassRebootStep, "reboot"),
		ClassHaltStep:          shutdown(ClassHaltStep, "halt"),
		ClassFullRebootStep:    shutdown(ClassFullRebootStep, "full_reboot"),
	}
}

// intrinsicDocument is merged beneath every test list.
func intrinsicDocument() value.Value {
	return value.MustFrom(map[string]interface{}{
		FieldDefinitions: intrinsicDefinitions(),
	})
}

// IsGroupClass reports whether a leaf of this class is an empty group
// rather than a test missing its pytest_name.
func IsGroupClass(class string) bool {
	return class == ClassTestGroup || class == ClassAutomatedSequence
}
