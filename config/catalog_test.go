package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
suppliers:
  - name: virustotal
    enabled: true

requisitions:
  - id: req-url-scan
    supplier: virustotal
    api_class: UrlScan
    url: https://www.virustotal.com/vtapi/v2/url/scan
    visa_required: true
    parameters:
      - name: url
        type: string
        required: true
  - id: req-url-report
    supplier: virustotal
    api_class: UrlReport
    url: https://www.virustotal.com/vtapi/v2/url/report
    visa_required: true
    parameters:
      - name: resource
        type: string
        required: true
      - name: scan
        type: int
        default: "1"

passports:
  - id: pass-main
    name: main key
    public: true
    key: ${PROCURER_TEST_VT_KEY}

visas:
  - id: visa-free
    calls_allowed: 4
    interval_seconds: 60

quartermasters:
  - id: qm-main
    passport: pass-main
    visa: visa-free
    endpoints:
      - virustotal:UrlScan
      - virustotal:UrlReport

chains:
  - id: chain-url
    name: url scan then report
    links:
      - id: link-scan
        requisition: req-url-scan
        position: 0
        unit: s
        couplings:
          - field: url
            parameter: url
      - id: link-report
        requisition: req-url-report
        position: 1
        wait_time: 20
        unit: s
        couplings:
          - field: url
            parameter: resource

procurements:
  - id: proc-url
    name: url intel
    chain: chain-url
`

func TestParseCatalog(t *testing.T) {
	t.Setenv("PROCURER_TEST_VT_KEY", "secret-key")

	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	s, err := c.Supplier("virustotal")
	require.NoError(t, err)
	assert.True(t, s.Enabled)

	req, err := c.Requisition("req-url-report")
	require.NoError(t, err)
	assert.Equal(t, "virustotal:UrlReport", req.Key())
	assert.Equal(t, "1", req.Parameter("scan").Default)

	qms := c.Quartermasters()
	require.Len(t, qms, 1)
	assert.Equal(t, "secret-key", qms[0].Passport.Key)
	assert.True(t, qms[0].Authorizes("anyone", "virustotal:UrlScan"))

	chain, err := c.Chain("chain-url")
	require.NoError(t, err)
	require.Len(t, chain.Links, 2)
	assert.Equal(t, "UrlScan", chain.First().Requisition.APIClass)

	p, err := c.Procurement("proc-url")
	require.NoError(t, err)
	assert.Equal(t, "url intel", p.Name)
	assert.True(t, p.IsValid(map[string]any{"url": "http://dunbararmored.com"}))

	procurements := c.Procurements()
	require.Len(t, procurements, 1)
}

func TestParseCatalogEmpty(t *testing.T) {
	c, err := ParseCatalog(nil)
	require.NoError(t, err)

	_, err = c.Procurement("anything")
	assert.Error(t, err)
}

func TestParseCatalogErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "unknown supplier",
			yaml: `
requisitions:
  - id: req-1
    supplier: ghost
    api_class: DomainReport
`,
			wantErr: "unknown supplier",
		},
		{
			name: "bad parameter default",
			yaml: `
suppliers:
  - name: virustotal
    enabled: true
requisitions:
  - id: req-1
    supplier: virustotal
    api_class: UrlReport
    parameters:
      - name: scan
        type: int
        default: banana
`,
			wantErr: "not a valid int",
		},
		{
			name: "chain references unknown requisition",
			yaml: `
chains:
  - id: chain-1
    links:
      - id: link-1
        requisition: req-ghost
        position: 0
`,
			wantErr: "unknown requisition",
		},
		{
			name: "coupling references unknown parameter",
			yaml: `
suppliers:
  - name: virustotal
    enabled: true
requisitions:
  - id: req-1
    supplier: virustotal
    api_class: UrlScan
    parameters:
      - name: url
        required: true
chains:
  - id: chain-1
    links:
      - id: link-1
        requisition: req-1
        position: 0
        couplings:
          - field: url
            parameter: nope
`,
			wantErr: "unknown parameter",
		},
		{
			name: "duplicate link positions",
			yaml: `
suppliers:
  - name: virustotal
    enabled: true
requisitions:
  - id: req-1
    supplier: virustotal
    api_class: UrlScan
    parameters:
      - name: url
        required: true
chains:
  - id: chain-1
    links:
      - id: link-a
        requisition: req-1
        position: 0
        couplings:
          - field: url
            parameter: url
      - id: link-b
        requisition: req-1
        position: 0
        couplings:
          - field: url
            parameter: url
`,
			wantErr: "duplicate position",
		},
		{
			name: "quartermaster references unknown passport",
			yaml: `
quartermasters:
  - id: qm-1
    passport: ghost
`,
			wantErr: "unknown passport",
		},
		{
			name: "quartermaster references unknown endpoint",
			yaml: `
passports:
  - id: pass-1
    public: true
    key: k
quartermasters:
  - id: qm-1
    passport: pass-1
    endpoints:
      - virustotal:Ghost
`,
			wantErr: "no requisition for endpoint",
		},
		{
			name: "procurement references unknown chain",
			yaml: `
procurements:
  - id: proc-1
    chain: ghost
`,
			wantErr: "unknown chain",
		},
		{
			name: "non-positive visa interval",
			yaml: `
visas:
  - id: visa-1
    calls_allowed: 4
    interval_seconds: 0
`,
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			require.Error(t, err)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestGlobalSingleton(t *testing.T) {
	ResetGlobal()
	t.Cleanup(ResetGlobal)

	c, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	InitGlobal(c)
	assert.Same(t, c, Global())
}

func TestGlobalDefaultsToEmpty(t *testing.T) {
	ResetGlobal()
	t.Cleanup(ResetGlobal)

	c := Global()
	require.NotNil(t, c)
	_, err := c.Procurement("proc-url")
	assert.Error(t, err)
}
