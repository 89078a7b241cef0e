package scorm

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/bytedance/sonic"
)

// shimTemplate is injected into external web views before any content
// script runs. It mirrors API: same return values, same emissions, posted
// through window.ReactNativeWebView.postMessage.
var shimTemplate = template.Must(template.New("shim").Parse(`(function () {
  var tracked = {{.Tracked}};
  var defaults = {{.Defaults}};
  var values = {};
  var state = 0;

  function post(msg) {
    try {
      if (window.ReactNativeWebView && window.ReactNativeWebView.postMessage) {
        window.ReactNativeWebView.postMessage(JSON.stringify(msg));
      }
    } catch (e) {}
  }

  function initialize() {
    if (state === 0) { state = 1; }
    return "true";
  }
  function finish() {
    if (state !== 2) {
      state = 2;
      post({ type: "scorm_finish", data: {} });
    }
    return "true";
  }
  function getValue(element) {
    element = String(element);
    if (Object.prototype.hasOwnProperty.call(values, element)) { return values[element]; }
    if (Object.prototype.hasOwnProperty.call(defaults, element)) { return defaults[element]; }
    return "";
  }
  function setValue(element, value) {
    if (state === 2) { return "true"; }
    element = String(element);
    value = String(value);
    values[element] = value;
    if (tracked.indexOf(element) !== -1) {
      post({ type: "scorm_set_value", element: element, value: value });
    }
    return "true";
  }
  function commit() {
    if (state !== 2) { post({ type: "scorm_commit", data: {} }); }
    return "true";
  }
  function lastError() { return "0"; }
  function noError() { return "No error"; }

  var api = {
    LMSInitialize: initialize,
    LMSFinish: finish,
    LMSGetValue: getValue,
    LMSSetValue: setValue,
    LMSCommit: commit,
    LMSGetLastError: lastError,
    LMSGetErrorString: noError,
    LMSGetDiagnostic: noError,
    Initialize: initialize,
    Terminate: finish,
    GetValue: getValue,
    SetValue: setValue,
    Commit: commit,
    GetLastError: lastError,
    GetErrorString: noError,
    GetDiagnostic: noError
  };

  window.API = api;
  window.API_1484_11 = api;
})();
true;
`))

// Shim renders the bridge script for an external web view.
func Shim(identity Identity, elements *Elements) (string, error) {
	if elements == nil {
		elements = DefaultElements()
	}
	identity = NewIdentity(identity.StudentID, identity.StudentName)

	tracked, err := jsLiteral(elements.List())
	if err != nil {
		return "", err
	}
	defaults, err := jsLiteral(map[string]string{
		ElemStudentID:    identity.StudentID,
		ElemStudentName:  identity.StudentName,
		ElemLearnerID:    identity.StudentID,
		ElemLearnerName:  identity.StudentName,
		ElemLessonStatus: "not attempted",
		ElemCompletion:   "not attempted",
		ElemLessonMode:   "normal",
		ElemMode:         "normal",
	})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = shimTemplate.Execute(&buf, struct {
		Tracked  string
		Defaults string
	}{tracked, defaults})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// jsLiteral encodes v as JSON safe to embed in an inline script.
func jsLiteral(v any) (string, error) {
	s, err := sonic.MarshalString(v)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(s, "</", `<\/`), nil
}
