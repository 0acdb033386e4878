package proxy

import "testing"

func TestParseRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Rule
		target  string
		wantErr bool
	}{
		{in: "8080:example.com:80", want: Rule{8080, "example.com", 80}, target: "example.com:80"},
		{in: "9000:127.0.0.1:9001", want: Rule{9000, "127.0.0.1", 9001}, target: "127.0.0.1:9001"},
		{in: "6379:[::1]:6379", want: Rule{6379, "::1", 6379}, target: "[::1]:6379"},
		{in: "6379:::1:6379", want: Rule{6379, "::1", 6379}, target: "[::1]:6379"},
		{in: "65535:h:1", want: Rule{65535, "h", 1}, target: "h:1"},
		{in: "8080", wantErr: true},
		{in: "8080:example.com", wantErr: true},
		{in: "0:example.com:80", wantErr: true},
		{in: "8080:example.com:0", wantErr: true},
		{in: "65536:example.com:80", wantErr: true},
		{in: "x:example.com:80", wantErr: true},
		{in: "8080::80", wantErr: true},
		{in: "-1:example.com:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRule(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRule(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Fatalf("ParseRule(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.Target() != tt.target {
				t.Fatalf("Target() = %q, want %q", got.Target(), tt.target)
			}
		})
	}
}
