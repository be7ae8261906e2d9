package addrspace

// Teardown destroys every page descriptor (writing back dirty
// file-backed content and releasing frames and swap slots as it goes)
// and closes every mmap'd file. It is the terminal operation on an
// address space; as must not be used afterward.
func (as *As_t) Teardown() {
	as.SPT.DestroyAll(as.Frames)
	as.MT.DestroyAll()
	as.log.Debug("address space torn down")
}
