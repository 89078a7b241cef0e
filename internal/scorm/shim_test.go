package scorm

import (
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runShim executes the shim in a bare VM and returns the posted payloads.
func runShim(t *testing.T, identity Identity, script string) (*goja.Runtime, *[]string) {
	t.Helper()

	shim, err := Shim(identity, nil)
	require.NoError(t, err)

	vm := goja.New()
	posted := &[]string{}
	window := vm.NewObject()
	bridge := vm.NewObject()
	require.NoError(t, bridge.Set("postMessage", func(s string) { *posted = append(*posted, s) }))
	require.NoError(t, window.Set("ReactNativeWebView", bridge))
	require.NoError(t, vm.Set("window", window))

	_, err = vm.RunString(shim)
	require.NoError(t, err)
	if script != "" {
		_, err = vm.RunString(script)
		require.NoError(t, err)
	}
	return vm, posted
}

func TestShimMatchesAPIContract(t *testing.T) {
	vm, posted := runShim(t, NewIdentity("u-1", "Grace"), `
		var api = window.API;
		api.LMSInitialize("");
		api.LMSSetValue("cmi.suspend_data", "x");
		api.LMSSetValue("cmi.core.score.raw", "42");
		api.LMSCommit("");
		api.LMSFinish("");
		api.LMSSetValue("cmi.core.score.raw", "99");
		api.LMSFinish("");
	`)

	require.Len(t, *posted, 3)

	msgs := make([]Message, 0, len(*posted))
	for _, p := range *posted {
		m, err := Decode([]byte(p))
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	assert.Equal(t, SetValue(ElemScoreRaw, "42"), msgs[0])
	assert.Equal(t, TypeCommit, msgs[1].Type)
	assert.Equal(t, TypeFinish, msgs[2].Type)

	v, err := vm.RunString(`window.API.LMSGetValue("cmi.core.student_name")`)
	require.NoError(t, err)
	assert.Equal(t, "Grace", v.String())
}

func TestShimDefaultsAndAliases(t *testing.T) {
	vm, posted := runShim(t, Identity{}, "")

	cases := map[string]string{
		`window.API.LMSGetValue("cmi.core.student_id")`:    "guest",
		`window.API.LMSGetValue("cmi.core.student_name")`:  "Student",
		`window.API.LMSGetValue("cmi.core.lesson_status")`: "not attempted",
		`window.API.LMSGetValue("cmi.core.lesson_mode")`:   "normal",
		`window.API.LMSGetValue("cmi.unknown")`:            "",
		`window.API.LMSGetLastError()`:                     "0",
		`window.API.LMSGetErrorString("0")`:                "No error",
		`window.API_1484_11.GetDiagnostic("0")`:            "No error",
		`String(window.API === window.API_1484_11)`:        "true",
		`window.API.LMSInitialize("")`:                     "true",
	}
	for script, want := range cases {
		v, err := vm.RunString(script)
		require.NoError(t, err, script)
		assert.Equal(t, want, v.String(), script)
	}
	assert.Empty(t, *posted)
}

func TestShimEscapesIdentity(t *testing.T) {
	vm, _ := runShim(t, NewIdentity(`x"y`, `</script><b>`), "")

	v, err := vm.RunString(`window.API.LMSGetValue("cmi.core.student_name")`)
	require.NoError(t, err)
	assert.Equal(t, "</script><b>", v.String())

	v, err = vm.RunString(`window.API.LMSGetValue("cmi.core.student_id")`)
	require.NoError(t, err)
	assert.Equal(t, `x"y`, v.String())
}

func TestShimWithoutBridgeDoesNotThrow(t *testing.T) {
	shim, err := Shim(Identity{}, nil)
	require.NoError(t, err)

	vm := goja.New()
	require.NoError(t, vm.Set("window", vm.NewObject()))
	_, err = vm.RunString(shim + `;window.API.LMSFinish("")`)
	assert.NoError(t, err)
}
