package quartermaster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/procurer/requisition"
)

func domainReportRequisition(visaRequired bool) *requisition.Requisition {
	return &requisition.Requisition{
		ID:           "req-domain-report",
		Supplier:     "virustotal",
		APIClass:     "DomainReport",
		VisaRequired: visaRequired,
		Parameters: []*requisition.ParameterSpec{
			{Name: "domain", Type: requisition.TypeString, Required: true},
		},
	}
}

func publicQM(id string, visa *Visa) *Quartermaster {
	return &Quartermaster{
		ID:        id,
		Passport:  &Passport{ID: "pass-" + id, Public: true, Key: "key-" + id},
		Visa:      visa,
		Endpoints: map[string]bool{"virustotal:DomainReport": true},
	}
}

func privateQM(id, user string, visa *Visa) *Quartermaster {
	return &Quartermaster{
		ID:        id,
		Passport:  &Passport{ID: "pass-" + id, Users: map[string]bool{user: true}, Key: "key-" + id},
		Visa:      visa,
		Endpoints: map[string]bool{"virustotal:DomainReport": true},
	}
}

func TestResolveNoCandidates(t *testing.T) {
	r := NewResolver([]*Quartermaster{privateQM("q1", "bob", nil)}, nil)

	_, err := r.Resolve("alice", domainReportRequisition(false))
	require.ErrorIs(t, err, ErrNoQuartermaster)
}

func TestResolveWrongEndpoint(t *testing.T) {
	qm := publicQM("q1", nil)
	qm.Endpoints = map[string]bool{"virustotal:FileScan": true}
	r := NewResolver([]*Quartermaster{qm}, nil)

	_, err := r.Resolve("alice", domainReportRequisition(false))
	require.ErrorIs(t, err, ErrNoQuartermaster)
}

func TestResolvePrefersPrivate(t *testing.T) {
	r := NewResolver([]*Quartermaster{
		publicQM("q-public", nil),
		privateQM("q-private", "alice", nil),
	}, nil)

	qm, err := r.Resolve("alice", domainReportRequisition(false))
	require.NoError(t, err)
	assert.Equal(t, "q-private", qm.ID)

	// bob cannot use alice's passport
	qm, err = r.Resolve("bob", domainReportRequisition(false))
	require.NoError(t, err)
	assert.Equal(t, "q-public", qm.ID)
}

func TestResolveLeastUsedThenLowestID(t *testing.T) {
	r := NewResolver([]*Quartermaster{
		publicQM("q2", nil),
		publicQM("q1", nil),
	}, nil)
	req := domainReportRequisition(false)

	// tie on call counts: lowest id wins
	qm, err := r.Resolve("alice", req)
	require.NoError(t, err)
	assert.Equal(t, "q1", qm.ID)

	// q1 now has one recent call, so q2 is preferred
	qm, err = r.Resolve("alice", req)
	require.NoError(t, err)
	assert.Equal(t, "q2", qm.ID)
}

func TestResolveVisaExhaustion(t *testing.T) {
	visa := &Visa{ID: "v1", CallsAllowed: 2, IntervalSeconds: 3600}
	r := NewResolver([]*Quartermaster{publicQM("q1", visa)}, nil)
	req := domainReportRequisition(true)

	for i := 0; i < 2; i++ {
		_, err := r.Resolve("alice", req)
		require.NoError(t, err)
	}

	_, err := r.Resolve("alice", req)
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestResolveUnmeteredCredentialIgnoresVisaRequirement(t *testing.T) {
	r := NewResolver([]*Quartermaster{publicQM("q1", nil)}, nil)

	for i := 0; i < 10; i++ {
		_, err := r.Resolve("alice", domainReportRequisition(true))
		require.NoError(t, err)
	}
}

// Concurrent resolution never over-admits a visa bucket.
func TestResolveBucketSafety(t *testing.T) {
	const workers = 20
	visa := &Visa{ID: "v1", CallsAllowed: 5, IntervalSeconds: 3600}
	r := NewResolver([]*Quartermaster{publicQM("q1", visa)}, nil)
	req := domainReportRequisition(true)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Resolve("alice", req); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
}
