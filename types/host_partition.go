package types

import "fmt"

// HostPartition identifies one of WorkerCount training hosts
// Shard file i is owned by the host with WorkerId == i % WorkerCount
type HostPartition struct {
	WorkerId    int
	WorkerCount int
}

func NewHostPartition(workerId, workerCount int) (*HostPartition, error) {
	p := &HostPartition{WorkerId: workerId, WorkerCount: workerCount}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *HostPartition) Validate() error {
	if p.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", p.WorkerCount)
	}
	if p.WorkerId < 0 || p.WorkerId >= p.WorkerCount {
		return fmt.Errorf("worker id %d out of range [0, %d)", p.WorkerId, p.WorkerCount)
	}
	return nil
}

// Owns returns whether the shard file at the given index of the sorted listing belongs to this host
func (p *HostPartition) Owns(index int) bool {
	return index%p.WorkerCount == p.WorkerId
}

func (p *HostPartition) String() string {
	if p == nil {
		return "all"
	}
	return fmt.Sprintf("%d/%d", p.WorkerId, p.WorkerCount)
}
