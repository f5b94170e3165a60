package security

import (
	"strings"
	"testing"
)

// sanitizeCase はSanitizeの出力に含まれるべき文字列と含まれてはならない文字列を表す。
type sanitizeCase struct {
	name       string
	input      string
	wantParts  []string
	wantAbsent []string
}

func runSanitizeCases(t *testing.T, cases []sanitizeCase) {
	t.Helper()
	sanitizer := NewDescriptionSanitizer()

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantParts {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

// TestSanitize_EditorMarkup はリッチテキストエディタが出力するタグが通過することを検証する。
func TestSanitize_EditorMarkup(t *testing.T) {
	runSanitizeCases(t, []sanitizeCase{
		{
			name:      "見出し",
			input:     "<h1>概要</h1><h2>対象者</h2><h3>前提知識</h3>",
			wantParts: []string{"<h1>概要</h1>", "<h2>対象者</h2>", "<h3>前提知識</h3>"},
		},
		{
			name:      "装飾",
			input:     "<p><strong>太字</strong><em>斜体</em><u>下線</u><s>取消</s></p>",
			wantParts: []string{"<strong>太字</strong>", "<em>斜体</em>", "<u>下線</u>", "<s>取消</s>"},
		},
		{
			name:      "リスト",
			input:     "<ol><li>環境構築</li></ol><ul><li>Go 1.22</li></ul>",
			wantParts: []string{"<ol>", "<ul>", "<li>環境構築</li>"},
		},
		{
			name:      "コードブロック",
			input:     "<pre><code>go test ./...</code></pre>",
			wantParts: []string{"<pre><code>go test ./...</code></pre>"},
		},
	})
}

// TestSanitize_ForbiddenMarkup は実行可能なコンテンツが除去されることを検証する。
func TestSanitize_ForbiddenMarkup(t *testing.T) {
	runSanitizeCases(t, []sanitizeCase{
		{
			name:       "script",
			input:      `<p>紹介</p><script>fetch("/api/user/data")</script>`,
			wantParts:  []string{"<p>紹介</p>"},
			wantAbsent: []string{"<script", "fetch("},
		},
		{
			name:       "iframeとstyle",
			input:      `<iframe src="https://evil.example"></iframe><style>p{display:none}</style>`,
			wantAbsent: []string{"<iframe", "evil.example", "<style", "display:none"},
		},
		{
			name:       "イベント属性",
			input:      `<p onclick="steal()">クリック</p><img src="https://cdn.example/a.png" onerror="x()">`,
			wantParts:  []string{"クリック", "https://cdn.example/a.png"},
			wantAbsent: []string{"onclick", "onerror", "steal()"},
		},
		{
			name:       "javascriptリンク",
			input:      `<a href="javascript:alert(1)">開く</a>`,
			wantParts:  []string{"開く"},
			wantAbsent: []string{"javascript:"},
		},
		{
			name:       "div",
			input:      `<div class="ql-editor"><p>本文</p></div>`,
			wantParts:  []string{"<p>本文</p>"},
			wantAbsent: []string{"<div", "ql-editor"},
		},
	})
}

// TestSanitize_Links はリンクにtarget="_blank"とrelが付与され、相対URLが除去されることを検証する。
func TestSanitize_Links(t *testing.T) {
	runSanitizeCases(t, []sanitizeCase{
		{
			name:      "https",
			input:     `<a href="https://go.dev/doc/" target="_self">公式ドキュメント</a>`,
			wantParts: []string{"https://go.dev/doc/", `target="_blank"`, "noopener", "noreferrer"},
			wantAbsent: []string{
				`target="_self"`,
			},
		},
		{
			name:      "http",
			input:     `<a href="http://example.com/">旧サイト</a>`,
			wantParts: []string{"http://example.com/"},
		},
		{
			name:      "mailto",
			input:     `<a href="mailto:edu@example.com">問い合わせ</a>`,
			wantParts: []string{"mailto:edu@example.com"},
		},
		{
			name:       "相対URL",
			input:      `<a href="/api/educator/dashboard">ダッシュボード</a>`,
			wantParts:  []string{"ダッシュボード"},
			wantAbsent: []string{"/api/educator/dashboard"},
		},
	})
}

// TestSanitize_Images はimgのsrcがhttpsのみ許可されることを検証する。
func TestSanitize_Images(t *testing.T) {
	runSanitizeCases(t, []sanitizeCase{
		{
			name:      "https",
			input:     `<img src="https://cdn.example/cover.png" alt="表紙">`,
			wantParts: []string{"https://cdn.example/cover.png", `alt="表紙"`},
		},
		{
			name:       "http",
			input:      `<img src="http://cdn.example/cover.png" alt="表紙">`,
			wantAbsent: []string{"http://cdn.example/cover.png"},
		},
		{
			name:       "data URI",
			input:      `<img src="data:image/png;base64,AAAA">`,
			wantAbsent: []string{"data:image"},
		},
	})
}

// TestSanitize_Idempotent は二重にサニタイズしても結果が変わらないことを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewDescriptionSanitizer()
	input := `<h2>学べること</h2><p>チャネルと<a href="https://go.dev">context</a></p><script>x()</script>`

	once := sanitizer.Sanitize(input)
	twice := sanitizer.Sanitize(once)
	if once != twice {
		t.Errorf("二重サニタイズで結果が変わった: 1回目=%q, 2回目=%q", once, twice)
	}
}

func TestSanitize_EmptyInput(t *testing.T) {
	if got := NewDescriptionSanitizer().Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
}

func TestDescriptionSanitizerInterface(t *testing.T) {
	var _ HTMLSanitizer = NewDescriptionSanitizer()
}
