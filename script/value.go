// Package script models the embedding host's surface: the value domain
// crossing the boundary between this module and the script engine, and
// the two collaborator interfaces (ErrorReporter, Invoker) a host
// supplies so callbacks can re-enter script code. The engine itself —
// parsing, evaluation, garbage collection — is out of scope.
package script

// Kind identifies which alternative of a Value is populated.
type Kind int

const (
	Void Kind = iota
	Int
	Double
	String
	Bool
	CallableKind
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Int:
		return "int"
	case Double:
		return "double"
	case String:
		return "string"
	case Bool:
		return "bool"
	case CallableKind:
		return "callable"
	default:
		return "unknown"
	}
}

// Value is the tagged union the script layer exchanges with this
// module: an integer, a double, a string, a bool, void, or a callable.
// Zero value is Void.
type Value struct {
	kind Kind
	i    int64
	d    float64
	s    string
	b    bool
	fn   Func
}

func VoidValue() Value            { return Value{kind: Void} }
func IntValue(n int64) Value      { return Value{kind: Int, i: n} }
func DoubleValue(f float64) Value { return Value{kind: Double, d: f} }
func StringValue(s string) Value  { return Value{kind: String, s: s} }
func BoolValue(b bool) Value      { return Value{kind: Bool, b: b} }
func FuncValue(fn Func) Value {
	if fn == nil {
		return VoidValue()
	}
	return Value{kind: CallableKind, fn: fn}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) Int() int64      { return v.i }
func (v Value) Double() float64 { return v.d }
func (v Value) String() string  { return v.s }
func (v Value) Bool() bool      { return v.b }
func (v Value) Func() Func      { return v.fn }

// IsCallable reports whether v holds a Func, the only Kind a callback
// setter accepts.
func (v Value) IsCallable() bool { return v.kind == CallableKind && v.fn != nil }
