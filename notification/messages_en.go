package notification

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.English

	message.SetString(lang, keyTitle, "Ttrust")
	message.SetString(lang, keyBody, "New Ttrust notification")
	message.SetString(lang, keyActionView, "View")
	message.SetString(lang, keyActionDismiss, "Dismiss")
}
