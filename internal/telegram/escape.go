package telegram

import "strings"

// Зарезервированные символы режима MarkdownV2 (Bot API).
// Неэкранированный символ в динамическом тексте роняет доставку целиком,
// поэтому все значения payload проходят через EscapeText.
var markdownV2Escaper = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"[", "\\[",
	"]", "\\]",
	"(", "\\(",
	")", "\\)",
	"~", "\\~",
	"`", "\\`",
	">", "\\>",
	"#", "\\#",
	"+", "\\+",
	"-", "\\-",
	"=", "\\=",
	"|", "\\|",
	"{", "\\{",
	"}", "\\}",
	".", "\\.",
	"!", "\\!",
)

// EscapeText экранирует управляющие символы MarkdownV2 в произвольной строке
func EscapeText(s string) string {
	return markdownV2Escaper.Replace(s)
}
