package dag

import (
	"sort"

	"github.com/modality-org/modality-core/common"
)

// RequestFn sends req to a peer and returns its SyncResponse, the
// out-of-scope transport collaborator spec.md §1 leaves external.
type RequestFn func(req SyncRequest) (SyncResponse, error)

// SyncClient pulls missing certificates from peers into dag (spec.md
// §4.5.7).
type SyncClient struct {
	dag *DAG
}

// NewSyncClient builds a SyncClient over dag.
func NewSyncClient(dag *DAG) *SyncClient {
	return &SyncClient{dag: dag}
}

// SyncWithPeer pulls every certificate a peer has from this node's
// highest known round onward, covering both rounds this node is
// entirely missing and certificates this node missed within its own
// highest round.
func (s *SyncClient) SyncWithPeer(requestFn RequestFn) error {
	req := SyncRequest{FromRound: s.dag.HighestRound()}
	resp, err := requestFn(req)
	if err != nil {
		return err
	}
	return s.insertSorted(resp.Certificates)
}

// RequestCertificates pulls exactly the named certificates from a peer.
func (s *SyncClient) RequestCertificates(digests []common.Hash, requestFn RequestFn) error {
	resp, err := requestFn(SyncRequest{Digests: digests})
	if err != nil {
		return err
	}
	return s.insertSorted(resp.Certificates)
}

// SyncMissingParents fetches, transitively, every ancestor cert needs
// that this node does not already have, inserting each as it arrives so
// a child is never inserted before its parents (spec.md §4.5.7: parent
// sync must complete before the child is processed).
func (s *SyncClient) SyncMissingParents(cert *Certificate, requestFn RequestFn) error {
	var missing []common.Hash
	for _, p := range cert.Header.Parents {
		if !s.dag.HasCertificate(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := s.RequestCertificates(missing, requestFn); err != nil {
		return err
	}
	for _, p := range missing {
		fetched, ok := s.dag.Get(p)
		if !ok {
			continue // peer didn't have it either; caller's later Insert will surface MissingParents
		}
		if err := s.SyncMissingParents(fetched, requestFn); err != nil {
			return err
		}
	}
	return nil
}

// insertSorted inserts certs in round-ascending order so a batch spanning
// several rounds never tries to insert a child before its parent.
func (s *SyncClient) insertSorted(certs map[common.Hash]*Certificate) error {
	list := make([]*Certificate, 0, len(certs))
	for _, c := range certs {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Header.Round != list[j].Header.Round {
			return list[i].Header.Round < list[j].Header.Round
		}
		return common.HashesAscending{list[i].Digest, list[j].Digest}.Less(0, 1)
	})
	for _, c := range list {
		if err := s.dag.Insert(c); err != nil && err != ErrDuplicateCert {
			return err
		}
	}
	return nil
}
