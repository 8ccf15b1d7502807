package oauth2

import (
	"html/template"
	"net/http"
)

// popupMessage is posted to window.opener when the flow ran in a popup
type popupMessage struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Redirect string `json:"redirect"`
}

var popupPage = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Signing in</title></head>
<body>
<script>
(function() {
  var message = {{.Message}};
  var origin = {{.Origin}} || window.location.origin;
  if (window.opener) {
    window.opener.postMessage(message, origin);
    window.close();
  } else {
    window.location.replace(message.redirect);
  }
})();
</script>
<noscript>Sign in finished. You can close this window.</noscript>
</body>
</html>
`))

func writePopupPage(w http.ResponseWriter, origin string, msg popupMessage) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	return popupPage.Execute(w, map[string]any{
		"Message": msg,
		"Origin":  origin,
	})
}
