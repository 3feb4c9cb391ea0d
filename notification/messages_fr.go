package notification

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.French

	message.SetString(lang, keyTitle, "Ttrust")
	message.SetString(lang, keyBody, "Nouvelle notification Ttrust")
	message.SetString(lang, keyActionView, "Voir")
	message.SetString(lang, keyActionDismiss, "Ignorer")
}
