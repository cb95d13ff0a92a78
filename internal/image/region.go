package image

// Region maps a range of kernel virtual addresses onto a range of the image
// file.
type Region struct {
	BaseVirtAddr uint64 `json:"base_virt_addr"`
	Size         uint64 `json:"size"`
	// Offset is the file offset of BaseVirtAddr.
	Offset int64 `json:"offset"`
}

// endVirtAddr is exclusive.
func (r *Region) endVirtAddr() uint64 {
	return r.BaseVirtAddr + r.Size
}

// endOffset is exclusive.
func (r *Region) endOffset() int64 {
	return r.Offset + int64(r.Size)
}

func (r *Region) contains(addr uint64) bool {
	return addr >= r.BaseVirtAddr && addr < r.endVirtAddr()
}

// shiftedOffset returns the file offset of addr.
func (r *Region) shiftedOffset(addr uint64) int64 {
	return int64(addr-r.BaseVirtAddr) + r.Offset
}
