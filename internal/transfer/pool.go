package transfer

import (
	"strconv"

	"github.com/me/wfplan/pkg/model"
)

// Job name prefixes of generated jobs.
const (
	StageInPrefix   = "stage_in_"
	StageOutPrefix  = "stage_out_"
	InterSitePrefix = "stage_inter_"
	RegisterPrefix  = "register_"
	SetXBitPrefix   = "chmod_"
	LocalPrefix     = "local_"
	RemotePrefix    = "remote_"
)

// FileTable records which job delivers a file to a site. A file is never
// transferred to the same site twice.
type FileTable struct {
	entries map[string]string
}

// NewFileTable creates an empty table.
func NewFileTable() *FileTable {
	return &FileTable{entries: make(map[string]string)}
}

// FileKey is the table key of lfn on site.
func FileKey(lfn, site string) string {
	return lfn + ":" + site
}

// Lookup returns the job delivering lfn to site.
func (t *FileTable) Lookup(lfn, site string) (string, bool) {
	job, ok := t.entries[FileKey(lfn, site)]
	return job, ok
}

// Record notes that job delivers lfn to site.
func (t *FileTable) Record(lfn, site, job string) {
	t.entries[FileKey(lfn, site)] = job
}

// Len returns the number of recorded deliveries.
func (t *FileTable) Len() int {
	return len(t.entries)
}

// TransferContainer collects the transfers of one generated transfer job
// and, for stage-out, the files its registration job records.
type TransferContainer struct {
	Name          string
	RegName       string
	Slot          int
	Transfers     []*model.FileTransfer
	Registrations []*model.FileTransfer
}

// AddTransfers appends file transfers.
func (c *TransferContainer) AddTransfers(fts ...*model.FileTransfer) {
	c.Transfers = append(c.Transfers, fts...)
}

// AddRegistrations appends files to register.
func (c *TransferContainer) AddRegistrations(fts ...*model.FileTransfer) {
	c.Registrations = append(c.Registrations, fts...)
}

// PoolTransfer spreads the transfers for one site over a fixed number of
// transfer jobs, round robin.
type PoolTransfer struct {
	Site  string
	Local bool

	kind     model.JobType
	prefix   string
	capacity int
	next     int
	slots    []*TransferContainer
}

// NewPoolTransfer creates a pool of capacity slots for site. kind selects
// the job name prefix and must be stage-in or stage-out. Capacities below
// one are raised to one.
func NewPoolTransfer(site string, capacity int, local bool, kind model.JobType, prefix string) *PoolTransfer {
	if capacity < 1 {
		capacity = 1
	}
	return &PoolTransfer{
		Site:     site,
		Local:    local,
		kind:     kind,
		prefix:   prefix,
		capacity: capacity,
		slots:    make([]*TransferContainer, capacity),
	}
}

// Capacity returns the number of slots.
func (p *PoolTransfer) Capacity() int { return p.capacity }

// Next returns the slot the next transfer goes to.
func (p *PoolTransfer) Next() int { return p.next }

// AddTransfer places ft in the current slot and advances to the next one.
// Containers created here are named without a level.
func (p *PoolTransfer) AddTransfer(ft *model.FileTransfer) *TransferContainer {
	tc := p.current(-1)
	tc.AddTransfers(ft)
	p.advance()
	return tc
}

// AddTransfers places fts in the current slot as a group and advances.
// Containers created here carry the level in their names. An empty group
// still claims the slot, for jobs with only files to register.
func (p *PoolTransfer) AddTransfers(fts []*model.FileTransfer, level int) *TransferContainer {
	tc := p.current(level)
	tc.AddTransfers(fts...)
	p.advance()
	return tc
}

// Containers returns the used slots in slot order.
func (p *PoolTransfer) Containers() []*TransferContainer {
	out := make([]*TransferContainer, 0, p.capacity)
	for _, tc := range p.slots {
		if tc != nil {
			out = append(out, tc)
		}
	}
	return out
}

func (p *PoolTransfer) current(level int) *TransferContainer {
	tc := p.slots[p.next]
	if tc == nil {
		tc = &TransferContainer{Slot: p.next, Name: p.txName(p.next, level)}
		if level >= 0 {
			tc.RegName = p.regName(p.next, level)
		}
		p.slots[p.next] = tc
	}
	return tc
}

func (p *PoolTransfer) advance() {
	p.next = (p.next + 1) % p.capacity
}

func (p *PoolTransfer) txName(slot, level int) string {
	name := StageInPrefix
	if p.kind == model.JobTypeStageOut {
		name = StageOutPrefix
	}
	if p.Local {
		name += LocalPrefix
	} else {
		name += RemotePrefix
	}
	name += p.prefix + p.Site + "_"
	if level >= 0 {
		name += strconv.Itoa(level) + "_"
	}
	return name + strconv.Itoa(slot)
}

func (p *PoolTransfer) regName(slot, level int) string {
	return RegisterPrefix + p.prefix + p.Site + "_" + strconv.Itoa(level) + "_" + strconv.Itoa(slot)
}
