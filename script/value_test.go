package script

import "testing"

type constFunc struct {
	v  Value
	ok bool
}

func (f constFunc) Call(receiver Object, args []Value) (Value, bool) {
	return f.v, f.ok
}

func TestValueKinds(t *testing.T) {
	cases := []struct {
		v    Value
		kind Kind
	}{
		{VoidValue(), Void},
		{IntValue(42), Int},
		{DoubleValue(3.5), Double},
		{StringValue("hi"), String},
		{BoolValue(true), Bool},
		{FuncValue(constFunc{}), CallableKind},
	}
	for _, c := range cases {
		if c.v.Kind() != c.kind {
			t.Fatalf("expected kind %v, got %v", c.kind, c.v.Kind())
		}
	}
}

func TestFuncValueNilCollapsesToVoid(t *testing.T) {
	v := FuncValue(nil)
	if v.Kind() != Void {
		t.Fatalf("expected Void for a nil Func, got %v", v.Kind())
	}
	if v.IsCallable() {
		t.Fatal("nil Func must not be callable")
	}
}

func TestIsCallable(t *testing.T) {
	if StringValue("x").IsCallable() {
		t.Fatal("string value must not report callable")
	}
	if !FuncValue(constFunc{v: IntValue(1), ok: true}).IsCallable() {
		t.Fatal("func value must report callable")
	}
}

func TestDefaultInvokerCallsThrough(t *testing.T) {
	fn := constFunc{v: IntValue(7), ok: true}
	ok := DefaultInvoker.Invoke(nil, fn, nil)
	if !ok {
		t.Fatal("expected successful call")
	}
	if !DefaultInvoker.Invoke(nil, nil, nil) {
		t.Fatal("invoking a nil Func must be a no-op success")
	}
}

func TestErrorFormatting(t *testing.T) {
	err := NewError(SocketError, "connect refused")
	if err.Error() != "SocketError: connect refused" {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
	bare := NewError(Failed, "")
	if bare.Error() != "Failed" {
		t.Fatalf("unexpected bare error text: %q", bare.Error())
	}
}
