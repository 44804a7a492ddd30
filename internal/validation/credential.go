// Package validation は資格情報の事前検証を提供する。
// ネットワーク往復の前に入力を検証し、フィールド単位で失敗を報告する。
// 副作用を持たない純粋なバリデーションのみを行う。
package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/hitoshi/taskdeck/internal/model"
)

// maxEmailLength はRFC 5321に基づくメールアドレスの最大長。
const maxEmailLength = 320

// パスワード長の既定値。configで上書きできる。
const (
	DefaultPasswordMinLength = 8
	DefaultPasswordMaxLength = 128
)

// sqlMetaPatterns はSQLメタ文字・キーワードの検出パターン。
// 永続化層のプレースホルダを置き換えるものではなく、多層防御の一層として
// メールアドレス入力にのみ適用する。
var sqlMetaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE|UNION|DECLARE)\b`),
	regexp.MustCompile(`--|;|/\*|\*/`),
	regexp.MustCompile(`(?i)\bOR\b.*=.*\bOR\b`),
	regexp.MustCompile(`(?i)'\s*OR\s*'1'\s*=\s*'1`),
}

// Credential は正規化済みの資格情報を表す。
// メモリ上の一時的なペアであり、永続化もログ出力もしてはならない。
type Credential struct {
	Email    string
	Password string
}

// Validator は資格情報のバリデータ。
type Validator struct {
	passwordMin int
	passwordMax int
}

// NewValidator はValidatorを生成する。
// 0以下の値が渡された場合は既定値を使用する。
func NewValidator(passwordMin, passwordMax int) *Validator {
	if passwordMin <= 0 {
		passwordMin = DefaultPasswordMinLength
	}
	if passwordMax <= 0 {
		passwordMax = DefaultPasswordMaxLength
	}
	return &Validator{
		passwordMin: passwordMin,
		passwordMax: passwordMax,
	}
}

// ValidateSignup はサインアップ入力を検証し、正規化済み資格情報を返す。
// 失敗はフィールド単位の*model.ValidationErrorとして報告する。
func (v *Validator) ValidateSignup(email, password, confirm string) (*Credential, error) {
	fields := map[string]string{}

	normalized, msg := normalizeEmail(email)
	if msg != "" {
		fields["email"] = msg
	}

	if msg := v.validatePasswordComplexity(password); msg != "" {
		fields["password"] = msg
	}

	// 確認フィールドの不一致はフィールドエラーとして報告する
	if confirm != password {
		fields["confirm_password"] = "パスワードが一致しません。"
	}

	if len(fields) > 0 {
		return nil, &model.ValidationError{Fields: fields}
	}

	return &Credential{Email: normalized, Password: password}, nil
}

// ValidateSignin はサインイン入力を検証し、正規化済み資格情報を返す。
// パスワードの複雑性は再検証しない。保存済みハッシュが照合の正であり、
// 再検証は過去のポリシー変更を漏らすだけで意味がない。
func (v *Validator) ValidateSignin(email, password string) (*Credential, error) {
	fields := map[string]string{}

	normalized, msg := normalizeEmail(email)
	if msg != "" {
		fields["email"] = msg
	}

	if password == "" {
		fields["password"] = "パスワードを入力してください。"
	}

	if len(fields) > 0 {
		return nil, &model.ValidationError{Fields: fields}
	}

	return &Credential{Email: normalized, Password: password}, nil
}

// normalizeEmail はメールアドレスをトリム・小文字化して検証する。
// 戻り値は正規化済みアドレスとエラーメッセージ（正常時は空文字列）。
func normalizeEmail(email string) (string, string) {
	trimmed := strings.ToLower(strings.TrimSpace(email))

	if trimmed == "" {
		return "", "メールアドレスを入力してください。"
	}
	if len(trimmed) > maxEmailLength {
		return "", "メールアドレスが長すぎます。"
	}
	if hasControlCharacters(trimmed) {
		return "", "メールアドレスに使用できない文字が含まれています。"
	}
	if hasSQLMetaPattern(trimmed) {
		return "", "メールアドレスに使用できない文字が含まれています。"
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", "メールアドレスの形式が正しくありません。"
	}

	// mail.ParseAddressは"a@b"のようなドットなしドメインも許容するため追加で確認する
	at := strings.LastIndex(trimmed, "@")
	if at < 0 || !strings.Contains(trimmed[at+1:], ".") {
		return "", "メールアドレスの形式が正しくありません。"
	}

	return trimmed, ""
}

// validatePasswordComplexity はサインアップ時のパスワード要件を検証する。
// 長さ、英字と数字の混在、制御文字・NUL文字の排除を確認する。
func (v *Validator) validatePasswordComplexity(password string) string {
	if len(password) < v.passwordMin {
		return fmt.Sprintf("パスワードは%d文字以上で入力してください。", v.passwordMin)
	}
	if len(password) > v.passwordMax {
		return fmt.Sprintf("パスワードは%d文字以下で入力してください。", v.passwordMax)
	}
	if strings.ContainsRune(password, 0) || hasControlCharacters(password) {
		return "パスワードに使用できない文字が含まれています。"
	}

	var hasAlpha, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasAlpha = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasAlpha || !hasDigit {
		return "パスワードには英字と数字をそれぞれ1文字以上含めてください。"
	}

	return ""
}

// hasControlCharacters は制御文字（タブ・改行を含む）の有無を返す。
func hasControlCharacters(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}

// hasSQLMetaPattern はSQLインジェクションで典型的に使われるパターンの有無を返す。
func hasSQLMetaPattern(s string) bool {
	for _, p := range sqlMetaPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
