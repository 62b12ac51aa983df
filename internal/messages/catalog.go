// catalog.go -- User-facing message catalog (en, pt).
//
// Holds only the strings the auth subsystem shows: error dialogs and
// connectivity toasts. Screens own everything else.
package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	UserBanned          = "auth.errors.userBanned"
	InvalidCredentials  = "auth.errors.invalidCredentials"
	EmailNotConfirmed   = "auth.errors.emailNotConfirmed"
	RequestTimeout      = "auth.errors.requestTimeout"
	RateLimited         = "auth.errors.rateLimited"
	Unknown             = "auth.errors.unknown"
	PasswordResetSent   = "auth.passwordResetSent"
	VerificationSent    = "auth.verificationSent"
	ConnectedToInternet = "common.connectedToInternet"
	NoInternet          = "common.noInternetConnection"
)

var supported = []language.Tag{language.English, language.Portuguese}

var tables = map[language.Tag]map[string]string{
	language.English: {
		UserBanned:          "Your account has been suspended.",
		InvalidCredentials:  "Invalid email or password.",
		EmailNotConfirmed:   "Please confirm your email before signing in.",
		RequestTimeout:      "The request timed out. Please try again.",
		RateLimited:         "Too many attempts. Please wait a moment and try again.",
		Unknown:             "Something went wrong. Please try again.",
		PasswordResetSent:   "If an account exists for that email, a reset link is on its way.",
		VerificationSent:    "Check your inbox to verify your email.",
		ConnectedToInternet: "Connected to the internet",
		NoInternet:          "No internet connection",
	},
	language.Portuguese: {
		UserBanned:          "Sua conta foi suspensa.",
		InvalidCredentials:  "E-mail ou senha inválidos.",
		EmailNotConfirmed:   "Confirme seu e-mail antes de entrar.",
		RequestTimeout:      "A solicitação expirou. Tente novamente.",
		RateLimited:         "Muitas tentativas. Aguarde um momento e tente novamente.",
		Unknown:             "Algo deu errado. Tente novamente.",
		PasswordResetSent:   "Se existir uma conta para esse e-mail, um link de redefinição foi enviado.",
		VerificationSent:    "Verifique sua caixa de entrada para confirmar seu e-mail.",
		ConnectedToInternet: "Conectado à internet",
		NoInternet:          "Sem conexão com a internet",
	},
}

// Catalog resolves message keys for a locale. Safe for concurrent use after New.
type Catalog struct {
	cat     *catalog.Builder
	matcher language.Matcher
}

// New builds the catalog from the static tables.
func New() *Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, table := range tables {
		for key, msg := range table {
			// SetString only fails on malformed messages; the tables are static.
			_ = b.SetString(tag, key, msg)
		}
	}
	return &Catalog{cat: b, matcher: language.NewMatcher(supported)}
}

// Match returns the supported tag closest to locale ("pt-BR" -> pt). Unknown or
// empty locales resolve to English.
func (c *Catalog) Match(locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return language.English
	}
	return supported[idx]
}

// Text returns the message for key in locale. Unknown keys fall back to Unknown.
func (c *Catalog) Text(locale, key string) string {
	tag := c.Match(locale)
	if _, ok := tables[tag][key]; !ok {
		key = Unknown
	}
	return message.NewPrinter(tag, message.Catalog(c.cat)).Sprintf(key)
}
