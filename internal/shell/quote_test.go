package shell

import (
	"os/exec"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"abc", "'abc'"},
		{"a b", "'a b'"},
		{"it's", `'it'"'"'s'`},
		{"'", `''"'"''`},
		{"''", `''"'"''"'"''`},
		{"$HOME", "'$HOME'"},
		{"a\nb", "'a\nb'"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Quote(tt.in); got != tt.want {
				t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestQuoteRoundTrip feeds the quoted form to a real POSIX shell and checks
// that the shell sees exactly the original bytes as one argument.
func TestQuoteRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	inputs := []string{
		"plain",
		"it's",
		"'leading",
		"trailing'",
		"''double''",
		`mixed "double" and 'single'`,
		"x'; rm -rf /tmp/nope; echo '",
		"$(whoami) `id` ${PATH}",
		"tab\there",
		"line1\nline2",
		"back\\slash",
		"glob * ? [a-z]",
		"semi;colon|pipe&amp>redirect<",
		"unicode ✓ ünï",
		"",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			out, err := exec.Command("sh", "-c", "printf %s "+Quote(in)).Output()
			if err != nil {
				t.Fatalf("sh failed for %q: %v", in, err)
			}
			if string(out) != in {
				t.Errorf("round trip mismatch: got %q, want %q", out, in)
			}
		})
	}
}

// TestQuoteNestedRoundTrip checks a quoted command that itself contains
// quoted words, the shape used when a composed line is handed to tmux.
func TestQuoteNestedRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	inner := "printf %s " + Quote("it's a 'test'")
	out, err := exec.Command("sh", "-c", "sh -c "+Quote(inner)).Output()
	if err != nil {
		t.Fatalf("sh failed: %v", err)
	}
	if string(out) != "it's a 'test'" {
		t.Errorf("got %q", out)
	}
}

func TestQuoteAll(t *testing.T) {
	got := QuoteAll("tmux", "send-keys", "-t", "it's")
	want := `'tmux' 'send-keys' '-t' 'it'"'"'s'`
	if got != want {
		t.Errorf("QuoteAll() = %q, want %q", got, want)
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty", nil, ""},
		{"single", []string{"a"}, "a"},
		{"several", []string{"a", "b", "c"}, "a && b && c"},
		{"skips blanks", []string{"a", "", "  ", "b"}, "a && b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Join(tt.in...); got != tt.want {
				t.Errorf("Join(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExportAndAssign(t *testing.T) {
	if got := Export("WANDB_API_KEY", "k'ey"); got != `export WANDB_API_KEY='k'"'"'ey'` {
		t.Errorf("Export() = %q", got)
	}
	if got := Assign("CUDA_VISIBLE_DEVICES", "0"); got != "CUDA_VISIBLE_DEVICES='0'" {
		t.Errorf("Assign() = %q", got)
	}
}

func TestValidEnvName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"CUDA_VISIBLE_DEVICES", true},
		{"_private", true},
		{"a1", true},
		{"", false},
		{"1abc", false},
		{"WITH-DASH", false},
		{"X;rm", false},
		{"X Y", false},
		{"X=Y", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidEnvName(tt.name); got != tt.want {
				t.Errorf("ValidEnvName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestPrependPath(t *testing.T) {
	tests := []struct {
		dirs []string
		want string
	}{
		{nil, ""},
		{[]string{"~/.local/bin"}, `export PATH="$HOME"'/.local/bin':"$PATH"`},
		{[]string{"$HOME/.local/bin", "/opt/it's/bin"}, `export PATH="$HOME"'/.local/bin':'/opt/it'"'"'s/bin':"$PATH"`},
		{[]string{"${HOME}/.cargo/bin"}, `export PATH="$HOME"'/.cargo/bin':"$PATH"`},
	}
	for _, tt := range tests {
		if got := PrependPath(tt.dirs...); got != tt.want {
			t.Errorf("PrependPath(%q) = %q, want %q", tt.dirs, got, tt.want)
		}
	}
}

func TestPrependPathExpandsHome(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	line := PrependPath("~/.local/bin", "/opt/x y") + ` && printf %s "$PATH"`
	cmd := exec.Command("sh", "-c", line)
	cmd.Env = []string{"HOME=/home/alice", "PATH=/usr/bin:/bin"}
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("sh failed: %v", err)
	}
	if want := "/home/alice/.local/bin:/opt/x y:/usr/bin:/bin"; string(out) != want {
		t.Errorf("PATH = %q, want %q", out, want)
	}
}
