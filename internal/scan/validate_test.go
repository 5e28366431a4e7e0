package scan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		URL:    "https://example.com",
		Audits: []AuditKind{KindAccessibility},
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.BrandColors = []string{"#ffffff", "000", "1A2b3C"}
	req.DynamicActions = []DynamicAction{
		{Kind: ActionClick, Selector: "#menu"},
		{Kind: ActionType, Selector: "input[name=q]", Value: "hello"},
	}
	require.NoError(t, req.Validate())
}

func TestValidate_RejectsSchemes(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "ftp://example.com", "javascript:alert(1)", "file:///etc/passwd", "https://"} {
		req := validRequest()
		req.URL = raw
		err := req.Validate()
		require.Error(t, err, "url %q", raw)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		require.Equal(t, "url", verr.Field)
	}
}

func TestValidate_UnknownAuditKind(t *testing.T) {
	t.Parallel()

	req := validRequest()
	req.Audits = []AuditKind{KindAccessibility, AuditKind("cookies")}
	err := req.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "audits", verr.Field)
}

func TestValidate_BrandColors(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{"red", "#12", "#1234", "#ggg", "#1234567"} {
		req := validRequest()
		req.BrandColors = []string{bad}
		require.Error(t, req.Validate(), "color %q", bad)
	}
}

func TestValidate_ActionBounds(t *testing.T) {
	t.Parallel()

	req := validRequest()
	for i := 0; i <= MaxDynamicActions; i++ {
		req.DynamicActions = append(req.DynamicActions, DynamicAction{Kind: ActionClick, Selector: "a"})
	}
	require.Error(t, req.Validate())

	req = validRequest()
	req.DynamicActions = []DynamicAction{{Kind: ActionKind("drag"), Selector: "a"}}
	require.Error(t, req.Validate())

	req = validRequest()
	req.DynamicActions = []DynamicAction{{Kind: ActionHover}}
	require.Error(t, req.Validate())
}

func TestLighthouseCategories(t *testing.T) {
	t.Parallel()

	req := Request{
		URL:    "https://example.com",
		Audits: []AuditKind{KindPerformance, KindAccessibility, KindSEO},
	}
	require.Equal(t, []AuditKind{KindPerformance, KindSEO}, req.LighthouseCategories())
	require.True(t, req.Requested(KindAccessibility))
	require.False(t, req.Requested(KindPWA))
}
