package prontoscript

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/stefan-sinnige/prontoscript/script"
)

// TestResult is the outcome of one TestCase once Run has processed it.
type TestResult int

const (
	NotRun TestResult = iota
	Pass
	Fail
)

// TestCase is one named script function registered with a TestSuite.
type TestCase struct {
	Name   string
	Func   script.Func
	Result TestResult
}

// TestSuite drives a set of test cases: Add registers one, Assert
// records a comparison's outcome against the currently running case,
// Events pumps the Selector until it has nothing left to wait on, and
// Run executes every case in registration order and prints a
// PASS/FAIL line per case followed by a summary.
type TestSuite struct {
	Name  string
	Cases []*TestCase

	Selector *Selector
	Invoker  script.Invoker

	Stdout io.Writer
	Stderr io.Writer

	current *TestCase
}

// NewTestSuite constructs a suite bound to sel, printing to
// os.Stdout/os.Stderr as jsunit.c's own diagnostics do.
func NewTestSuite(name string, sel *Selector) *TestSuite {
	return &TestSuite{
		Name:     name,
		Selector: sel,
		Invoker:  script.DefaultInvoker,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
}

// Add registers a named test case.
func (s *TestSuite) Add(name string, fn script.Func) {
	s.Cases = append(s.Cases, &TestCase{Name: name, Func: fn, Result: NotRun})
}

// Assert compares expected against actual using the polymorphic rules
// per value kind (equal ints, equal doubles, equal strings, a
// non-empty expected string failing against a void actual and an empty
// one passing, equal bools; any kind mismatch otherwise fails) and
// records a failure against the currently running case. It always
// returns true to the caller — a failed assertion does not abort the
// test case, matching jsunit.c's own Assert, which never raises.
func (s *TestSuite) Assert(expected, actual script.Value) bool {
	if !compareValues(expected, actual) {
		fmt.Fprintf(s.Stderr, "Assertion failed:\n  expected: %s\n  actual  : %s\n",
			formatValue(expected), formatValue(actual))
		if s.current != nil {
			s.current.Result = Fail
		}
	}
	return true
}

func compareValues(expected, actual script.Value) bool {
	switch expected.Kind() {
	case script.Int:
		return actual.Kind() == script.Int && expected.Int() == actual.Int()
	case script.Double:
		return actual.Kind() == script.Double && expected.Double() == actual.Double()
	case script.Bool:
		return actual.Kind() == script.Bool && expected.Bool() == actual.Bool()
	case script.String:
		if actual.Kind() == script.String {
			return expected.String() == actual.String()
		}
		if actual.Kind() == script.Void {
			return len(expected.String()) == 0
		}
		return false
	default:
		return false
	}
}

func formatValue(v script.Value) string {
	switch v.Kind() {
	case script.Int:
		return fmt.Sprintf("%d", v.Int())
	case script.Double:
		return fmt.Sprintf("%g", v.Double())
	case script.String:
		return fmt.Sprintf("%q", v.String())
	case script.Bool:
		return fmt.Sprintf("%t", v.Bool())
	case script.CallableKind:
		return "<callable>"
	default:
		return "void"
	}
}

// Events pumps the bound Selector until there is nothing registered
// left to wait on — the loop a test case uses to drive its own
// asynchronous assertions to completion before Run moves to the next
// case.
func (s *TestSuite) Events() {
	for {
		more, err := s.Selector.PumpOnce()
		if err != nil || !more {
			return
		}
	}
}

// Run executes every registered case in order, printing a PASS/FAIL
// line per case and a trailing summary, and returns an aggregate error
// (via go-multierror) naming every case that failed if any did.
func (s *TestSuite) Run() error {
	invoker := s.Invoker
	if invoker == nil {
		invoker = script.DefaultInvoker
	}

	var errs *multierror.Error
	for _, tc := range s.Cases {
		s.current = tc
		tc.Result = Pass
		if ok := invoker.Invoke(s, tc.Func, nil); !ok {
			tc.Result = Fail
		}
		if tc.Result == Pass {
			fmt.Fprintf(s.Stdout, "PASS: %s\n", tc.Name)
		} else {
			fmt.Fprintf(s.Stdout, "FAIL: %s\n", tc.Name)
			errs = multierror.Append(errs, fmt.Errorf("test case %q failed", tc.Name))
		}
	}
	s.current = nil

	var pass, fail int
	for _, tc := range s.Cases {
		switch tc.Result {
		case Pass:
			pass++
		case Fail:
			fail++
		}
	}
	fmt.Fprintf(s.Stdout, "Total: %d  Pass: %d  Fail: %d\n", len(s.Cases), pass, fail)

	if fail > 0 {
		errs = multierror.Append(errs, script.NewError(script.FailingTestSuite, s.Name))
		return errs.ErrorOrNil()
	}
	if pass != len(s.Cases) {
		return script.NewError(script.NotAllTestCasesRun, s.Name)
	}
	return errs.ErrorOrNil()
}
