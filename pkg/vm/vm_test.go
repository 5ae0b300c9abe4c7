package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rill-lang/rill/pkg/compiler"
	"github.com/rill-lang/rill/pkg/parser"
	"github.com/rill-lang/rill/pkg/value"
)

// runProgram compiles and executes src on a fresh VM with a fixed seed,
// returning everything the program printed along with its result value.
func runProgram(src string) (string, value.Value, error) {
	program, err := parser.Parse(src)
	if err != nil {
		return "", value.Null, err
	}
	fn, err := compiler.Compile(program)
	if err != nil {
		return "", value.Null, err
	}
	var out bytes.Buffer
	vm := NewVM()
	vm.SetOutput(&out)
	vm.Seed(7)
	result, err := vm.Interpret(fn)
	return out.String(), result, err
}

func runSource(t *testing.T, src string) string {
	t.Helper()
	out, _, err := runProgram(src)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return out
}

func runError(t *testing.T, src string) string {
	t.Helper()
	_, _, err := runProgram(src)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	return err.Error()
}

func TestRunLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"disp 42;", "42\n"},
		{"disp 3.5;", "3.5\n"},
		{"disp 2.0;", "2\n"},
		{"disp 1000000.0;", "1e+06\n"},
		{`disp "hi";`, "hi\n"},
		{"disp true;", "true\n"},
		{"disp false;", "false\n"},
		{"disp null;", "null\n"},
		{`disp [1, "a", true];`, "[1, \"a\", true]\n"},
		{"disp {b: 2, a: 1};", "{a: 1, b: 2}\n"},
		{"disp [];", "[]\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunArithmetic(t *testing.T) {
	// Operands live in globals so the compiler cannot fold anything.
	tests := []struct {
		src  string
		want string
	}{
		{"let a = 7; let b = 2; disp a + b;", "9\n"},
		{"let a = 7; let b = 2; disp a - b;", "5\n"},
		{"let a = 7; let b = 2; disp a * b;", "14\n"},
		{"let a = 7; let b = 2; disp a / b;", "3.5\n"},
		{"let a = 6; let b = 2; disp a / b;", "3\n"},
		{"let a = 7; let b = 2; disp a % b;", "1\n"},
		{"let a = 2.5; let b = 4; disp a * b;", "10\n"},
		{`let a = "ab"; disp a + 1;`, "ab1\n"},
		{`let a = "ab"; disp a * 3;`, "ababab\n"},
		{"let a = [1, 2]; let b = [3]; disp a + b;", "[1, 2, 3]\n"},
		{"let a = [0]; disp a * 2;", "[0, 0]\n"},
		{"let a = 6; let b = 3; disp a & b;", "2\n"},
		{"let a = 6; let b = 3; disp a | b;", "7\n"},
		{"let a = 6; let b = 3; disp a ^ b;", "5\n"},
		{"let a = 1; let b = 4; disp a << b;", "16\n"},
		{"let a = 32; let b = 2; disp a >> b;", "8\n"},
		{"let a = 0; disp ~a;", "-1\n"},
		{"let a = 3; disp -a;", "-3\n"},
		{"let a = true; disp !a;", "false\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunComparisons(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"let a = 1; let b = 2; disp a < b;", "true\n"},
		{"let a = 1; let b = 2; disp a > b;", "false\n"},
		{"let a = 1; let b = 1; disp a <= b;", "true\n"},
		{"let a = 1; let b = 3; disp a >= b;", "false\n"},
		{"let a = 1; let b = 1.0; disp a == b;", "true\n"},
		{"let a = 1; let b = 2; disp a != b;", "true\n"},
		{`let s = "x"; disp s == "x";`, "true\n"},
		{"let u = [1, 2]; let v = [1, 2]; disp u == v;", "true\n"},
		{"let u = [1]; let v = [2]; disp u == v;", "false\n"},
		{"let o = {a: 1}; let q = {a: 1}; disp o == q;", "false\n"},
		{"let n = null; disp n == null;", "true\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunGlobalsAndLocals(t *testing.T) {
	src := `
let x = 1;
{
    let x = 2;
    disp x;
    x = 3;
    disp x;
}
disp x;
x = 4;
disp x;
`
	if got, want := runSource(t, src), "2\n3\n1\n4\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunCompoundAssignment(t *testing.T) {
	src := `
let n = 10;
n += 5;
disp n;
n -= 3;
disp n;
n *= 2;
disp n;
n /= 4;
disp n;
let m = 10;
m %= 3;
disp m;
`
	if got, want := runSource(t, src), "15\n12\n24\n6\n1\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunIfElse(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`let x = 12; if x > 10 { disp "big"; } else if x > 5 { disp "mid"; } else { disp "small"; }`, "big\n"},
		{`let x = 7; if x > 10 { disp "big"; } else if x > 5 { disp "mid"; } else { disp "small"; }`, "mid\n"},
		{`let x = 1; if x > 10 { disp "big"; } else if x > 5 { disp "mid"; } else { disp "small"; }`, "small\n"},
		// Only false, 0, 0.0 and "" are falsy; null is not.
		{`let n = null; if n { disp "y"; } else { disp "n"; }`, "y\n"},
		{`let e = ""; if e { disp "y"; } else { disp "n"; }`, "n\n"},
		{`let z = 0; if z { disp "y"; } else { disp "n"; }`, "n\n"},
		{`let z = 0.0; if z { disp "y"; } else { disp "n"; }`, "n\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunLogicalOperators(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		// The right side must not run when the left decides; missing()
		// would be an undefined-global error if it were evaluated.
		{"let f = false; disp f && missing();", "false\n"},
		{"let t = true; disp t || missing();", "true\n"},
		{"let a = 1; let b = 2; disp a && b;", "2\n"},
		{`let f = false; disp f || "fallback";`, "fallback\n"},
		{"let z = 0; let n = 9; disp z || n;", "9\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunTernary(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`let x = 5; disp x > 3 ? "yes" : "no";`, "yes\n"},
		{`let x = 5; disp x > 8 ? "yes" : "no";`, "no\n"},
		{"let x = 1; disp x == 1 ? x + 1 : x - 1;", "2\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunWhileLoop(t *testing.T) {
	src := `
let s = 0;
let i = 0;
while i < 100 {
    s = s + i;
    i = i + 1;
}
disp s;
`
	if got, want := runSource(t, src), "4950\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunForLoop(t *testing.T) {
	src := `
let total = 0;
for let i = 1; i <= 5; i = i + 1 {
    total = total + i;
}
disp total;
for let i = 0; i < 3; i++ {
    disp i;
}
`
	if got, want := runSource(t, src), "15\n0\n1\n2\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunForEach(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"for v in [10, 20, 30] { disp v; }", "10\n20\n30\n"},
		{"for v, i in [7, 8] { disp i; disp v; }", "0\n7\n1\n8\n"},
		{`for ch in "ab" { disp ch; }`, "a\nb\n"},
		// Object iteration yields keys in sorted order.
		{"let o = {b: 1, a: 2}; for k in o { disp k; }", "a\nb\n"},
		{"for n in arange(0, 6, 2) { disp n; }", "0\n2\n4\n"},
		{"for v in [] { disp v; }", ""},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}

	if got, want := runError(t, "for x in 5 { disp x; }"), "thread 0: Value of type 'int' is not iterable."; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestRunFunctions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"fn add(a, b) { return a + b; } disp add(2, 3);", "5\n"},
		{"fn noret() {} disp noret();", "null\n"},
		{"let twice = fn(x) -> x * 2; disp twice(21);", "42\n"},
		{"let f = fn(a, b) { return a - b; }; disp f(5, 2);", "3\n"},
		{"fn apply(f, x) { return f(x); } disp apply(fn(n) -> n + 1, 41);", "42\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunRecursion(t *testing.T) {
	src := `
fn fib(n) {
    if n < 2 {
        return n;
    }
    return fib(n - 1) + fib(n - 2);
}
disp fib(10);
`
	if got, want := runSource(t, src), "55\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunMutualRecursion(t *testing.T) {
	// Globals resolve by name at call time, so isOdd may be defined
	// after the function that calls it.
	src := `
fn isEven(n) {
    if n == 0 { return true; }
    return isOdd(n - 1);
}
fn isOdd(n) {
    if n == 0 { return false; }
    return isEven(n - 1);
}
disp isEven(10);
disp isOdd(7);
`
	if got, want := runSource(t, src), "true\ntrue\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunClosureCounter(t *testing.T) {
	src := `
fn mkc() {
    let c = 0;
    return fn() {
        c = c + 1;
        return c;
    };
}
let f = mkc();
disp f();
disp f();
disp f();
`
	if got, want := runSource(t, src), "1\n2\n3\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunClosuresShareOpenUpvalue(t *testing.T) {
	src := `
fn pair() {
    let n = 0;
    let inc = fn() { n = n + 1; };
    let get = fn() -> n;
    inc();
    inc();
    return get();
}
disp pair();
`
	if got, want := runSource(t, src), "2\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunClosuresCaptureIndependently(t *testing.T) {
	src := `
fn counter() {
    let n = 0;
    return fn() {
        n = n + 1;
        return n;
    };
}
let a = counter();
let b = counter();
a();
a();
disp a();
disp b();
`
	if got, want := runSource(t, src), "3\n1\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunStructs(t *testing.T) {
	src := `
struct P {
    fn init(x) {
        self.x = x;
    }
    fn get() {
        return self.x;
    }
}
let p = P(42);
disp p.get();
disp P(5).get();
disp type(p);
disp p;
`
	if got, want := runSource(t, src), "42\n5\nP\n<instance of 'P'>\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunBoundMethod(t *testing.T) {
	// A method plucked off an instance stays bound to it, and reads
	// fields as they are at call time.
	src := `
struct P {
    fn init(x) {
        self.x = x;
    }
    fn get() {
        return self.x;
    }
}
let p = P(1);
let m = p.get;
disp m();
p.x = 9;
disp m();
`
	if got, want := runSource(t, src), "1\n9\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunMethodMutatesFields(t *testing.T) {
	src := `
struct Counter {
    fn init() {
        self.n = 0;
    }
    fn inc() {
        self.n = self.n + 1;
        return self.n;
    }
}
let c = Counter();
c.inc();
disp c.inc();
disp c.n;
`
	if got, want := runSource(t, src), "2\n2\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunFieldShadowsMethod(t *testing.T) {
	// Instance fields win over struct methods, and a closure stored in
	// a field is called as-is rather than rebound.
	src := `
struct S {
    fn init() {
        self.get = fn() -> 1;
    }
    fn get() {
        return 2;
    }
}
disp S().get();
`
	if got, want := runSource(t, src), "1\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunStructWithoutInit(t *testing.T) {
	src := `
struct E {}
let e = E();
disp type(e);
`
	if got, want := runSource(t, src), "E\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}

	got := runError(t, "struct E {} E(1);")
	if want := "thread 0: Struct constructor does not take arguments"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestRunUndefinedProperty(t *testing.T) {
	got := runError(t, "struct E {} let e = E(); disp e.nope;")
	if want := "thread 0: Undefined property `nope`."; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestRunIndexing(t *testing.T) {
	src := `
let a = [1, 2, 3];
a[1] = 9;
disp a[1];
disp a;
let s = "abc";
disp s[1];
let grid = [[1, 2], [3, 4]];
disp grid[1][0];
grid[0][1] = 9;
disp grid;
`
	want := "9\n[1, 9, 3]\nb\n3\n[[1, 9], [3, 4]]\n"
	if got := runSource(t, src); got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunObjects(t *testing.T) {
	src := `
let o = {name: "rill", n: 1};
disp o.name;
disp o["n"];
o.v = 2;
disp o["v"];
o["w"] = 3;
disp o.w;
disp o["zzz"];
disp len(o);
`
	want := "rill\n1\n2\n3\nnull\n4\n"
	if got := runSource(t, src); got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}

func TestRunIndexErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"let a = [1]; a[5];", "thread 0: Array index out of range"},
		{`let a = [1]; a["x"];`, "thread 0: Array index must be an integer"},
		{`let s = "x"; s[3];`, "thread 0: String index out of range"},
		{"let n = 5; n[0];", "thread 0: Cannot index value of type 'int'"},
		{"let o = {a: 1}; o[1];", "thread 0: Object keys must be strings"},
	}
	for _, tt := range tests {
		if got := runError(t, tt.src); got != tt.want {
			t.Errorf("%s: error = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunIncrementDecrement(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"let i = 5; i++; disp i;", "6\n"},
		{"let i = 5; disp i++; disp i;", "5\n6\n"},
		{"let i = 5; disp ++i; disp i;", "6\n6\n"},
		{"let i = 5; disp i--; disp i;", "5\n4\n"},
		{"let i = 5; disp --i;", "4\n"},
		{"let o = {n: 1}; o.n++; disp o.n;", "2\n"},
		{"let a = [1]; a[0]++; disp a[0];", "2\n"},
	}
	for _, tt := range tests {
		if got := runSource(t, tt.src); got != tt.want {
			t.Errorf("%s: printed %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunRuntimeErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"let a = 1; let b = 0; disp a / b;", "thread 0: Division by zero"},
		{"let a = 1; let b = 0; disp a % b;", "thread 0: Modulo by zero"},
		{"disp missing;", "thread 0: Undefined global variable: missing"},
		{"missing = 1;", "thread 0: Undefined global variable: missing"},
		{"let n = 3; n();", "thread 0: Can only call functions and closures"},
		{"fn f(a) { return a; } f();", "thread 0: Expected 1 arguments but got 0"},
		{`let a = "x"; let b = 1; disp a - b;`, "thread 0: Unsupported types for '-'"},
		{"let b = true; disp -b;", "thread 0: Unary '-' operator requires a numeric value."},
		{"let b = 1.5; disp ~b;", "thread 0: Unary '~' operator requires an integer value."},
		{"let a = 1; let b = -1; disp a << b;", "thread 0: Negative shift count for '<<'"},
	}
	for _, tt := range tests {
		if got := runError(t, tt.src); got != tt.want {
			t.Errorf("%s: error = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestRunStackOverflow(t *testing.T) {
	got := runError(t, "fn f() { f(); } f();")
	if want := "thread 0: Stack overflow"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestRunTopLevelReturn(t *testing.T) {
	_, result, err := runProgram("return 40 + 2;")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Kind != value.KindInt || result.Int != 42 {
		t.Errorf("result = %s, want 42", result)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{"return 0;", 0},
		{"return 42;", 42},
		{"return 300;", 44},
		{"return -1;", 255},
		{"return true;", 0},
		{"return false;", 1},
		{`return "done";`, 0},
		{"let x = 1;", 0},
	}
	for _, tt := range tests {
		_, result, err := runProgram(tt.src)
		if err != nil {
			t.Fatalf("%s: run failed: %v", tt.src, err)
		}
		if got := ExitCode(result); got != tt.want {
			t.Errorf("%s: exit code = %d, want %d", tt.src, got, tt.want)
		}
	}
}

func TestRunTrace(t *testing.T) {
	program, err := parser.Parse("disp 1;")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	fn, err := compiler.Compile(program)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	var out, trace bytes.Buffer
	vm := NewVM()
	vm.SetOutput(&out)
	vm.SetTrace(&trace)
	if _, err := vm.Interpret(fn); err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}

	if !strings.Contains(trace.String(), "[thread 0]") {
		t.Error("trace should name the running thread")
	}
	if !strings.Contains(trace.String(), "PRINT") {
		t.Error("trace should show opcode names")
	}
	if got, want := out.String(), "1\n"; got != want {
		t.Errorf("printed %q, want %q", got, want)
	}
}
