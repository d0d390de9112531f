package feature

import (
	"debug/pe"
	"fmt"
)

// Every fill function tolerates an unparsed PE view: fields that
// cannot be computed stay at the zero sentinel so partial structural
// information still reaches the model.

func fillGeneral(dst []float32, p *parsedPE, fileSize int) {
	dst[0] = float32(fileSize)
	if !p.parsed() {
		return
	}
	dst[1] = float32(p.sizeOfImage)
	dst[2] = boolFeature(dirPresent(p, 6)) // debug
	dst[3] = float32(len(p.exports))
	dst[4] = float32(len(p.imports))
	dst[5] = boolFeature(dirPresent(p, 5)) // base relocations
	dst[6] = boolFeature(dirPresent(p, 2)) // resources
	dst[7] = boolFeature(dirPresent(p, 4)) // authenticode signature
	dst[8] = boolFeature(dirPresent(p, 9)) // TLS
	dst[9] = float32(p.file.FileHeader.NumberOfSymbols)
}

func dirPresent(p *parsedPE, index int) bool {
	dir, ok := p.dataDir(index)
	return ok && dir.Size > 0
}

func boolFeature(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

var machineNames = map[uint16]string{
	pe.IMAGE_FILE_MACHINE_I386:  "I386",
	pe.IMAGE_FILE_MACHINE_AMD64: "AMD64",
	pe.IMAGE_FILE_MACHINE_ARM:   "ARM",
	pe.IMAGE_FILE_MACHINE_ARM64: "ARM64",
	pe.IMAGE_FILE_MACHINE_ARMNT: "ARMNT",
	pe.IMAGE_FILE_MACHINE_IA64:  "IA64",
	pe.IMAGE_FILE_MACHINE_THUMB: "THUMB",
}

// coffCharacteristicNames lists flag bits in a fixed order so hashed
// accumulation is deterministic.
var coffCharacteristicNames = []struct {
	bit  uint16
	name string
}{
	{0x0001, "RELOCS_STRIPPED"},
	{0x0002, "EXECUTABLE_IMAGE"},
	{0x0004, "LINE_NUMS_STRIPPED"},
	{0x0008, "LOCAL_SYMS_STRIPPED"},
	{0x0020, "LARGE_ADDRESS_AWARE"},
	{0x0100, "MACHINE_32BIT"},
	{0x0200, "DEBUG_STRIPPED"},
	{0x1000, "SYSTEM"},
	{0x2000, "DLL"},
}

var dllCharacteristicNames = []struct {
	bit  uint16
	name string
}{
	{0x0020, "HIGH_ENTROPY_VA"},
	{0x0040, "DYNAMIC_BASE"},
	{0x0080, "FORCE_INTEGRITY"},
	{0x0100, "NX_COMPAT"},
	{0x0200, "NO_ISOLATION"},
	{0x0400, "NO_SEH"},
	{0x0800, "NO_BIND"},
	{0x1000, "APPCONTAINER"},
	{0x2000, "WDM_DRIVER"},
	{0x4000, "GUARD_CF"},
	{0x8000, "TERMINAL_SERVER_AWARE"},
}

var subsystemNames = map[uint16]string{
	1:  "NATIVE",
	2:  "WINDOWS_GUI",
	3:  "WINDOWS_CUI",
	5:  "OS2_CUI",
	7:  "POSIX_CUI",
	9:  "WINDOWS_CE_GUI",
	10: "EFI_APPLICATION",
	11: "EFI_BOOT_SERVICE_DRIVER",
	12: "EFI_RUNTIME_DRIVER",
	13: "EFI_ROM",
	14: "XBOX",
	16: "WINDOWS_BOOT_APPLICATION",
}

// fillHeader writes COFF and optional-header features into dst
// (len 62): [0] link timestamp, [1:11] hashed machine name, [11:21]
// hashed COFF characteristics, [21:31] hashed subsystem, [31:41]
// hashed DLL characteristics, [41:51] hashed optional-header magic,
// [51:59] version numbers, [59:62] size fields.
func fillHeader(dst []float32, p *parsedPE) {
	if !p.parsed() {
		return
	}
	fh := p.file.FileHeader
	dst[0] = float32(fh.TimeDateStamp)
	bucketAdd(dst[1:11], machineName(fh.Machine), 1)
	for _, flag := range coffCharacteristicNames {
		if fh.Characteristics&flag.bit != 0 {
			bucketAdd(dst[11:21], flag.name, 1)
		}
	}
	bucketAdd(dst[21:31], subsystemName(p.subsystem), 1)
	for _, flag := range dllCharacteristicNames {
		if p.dllCharacteristics&flag.bit != 0 {
			bucketAdd(dst[31:41], flag.name, 1)
		}
	}
	bucketAdd(dst[41:51], magicName(p.magic), 1)

	dst[51] = float32(p.imageVersion[0])
	dst[52] = float32(p.imageVersion[1])
	dst[53] = float32(p.linkerVersion[0])
	dst[54] = float32(p.linkerVersion[1])
	dst[55] = float32(p.osVersion[0])
	dst[56] = float32(p.osVersion[1])
	dst[57] = float32(p.subsystemVersion[0])
	dst[58] = float32(p.subsystemVersion[1])
	dst[59] = float32(p.sizeOfCode)
	dst[60] = float32(p.sizeOfHeaders)
	dst[61] = float32(p.sizeOfHeapCommit)
}

func machineName(machine uint16) string {
	if name, ok := machineNames[machine]; ok {
		return name
	}
	return fmt.Sprintf("MACHINE_%#04x", machine)
}

func subsystemName(subsystem uint16) string {
	if name, ok := subsystemNames[subsystem]; ok {
		return name
	}
	return fmt.Sprintf("SUBSYSTEM_%d", subsystem)
}

func magicName(magic uint16) string {
	switch magic {
	case 0x10b:
		return "PE32"
	case 0x20b:
		return "PE32+"
	default:
		return fmt.Sprintf("MAGIC_%#04x", magic)
	}
}

var sectionCharacteristicNames = []struct {
	bit  uint32
	name string
}{
	{0x00000020, "CNT_CODE"},
	{0x00000040, "CNT_INITIALIZED_DATA"},
	{0x00000080, "CNT_UNINITIALIZED_DATA"},
	{0x02000000, "MEM_DISCARDABLE"},
	{0x04000000, "MEM_NOT_CACHED"},
	{0x08000000, "MEM_NOT_PAGED"},
	{0x10000000, "MEM_SHARED"},
	{0x20000000, "MEM_EXECUTE"},
	{0x40000000, "MEM_READ"},
	{0x80000000, "MEM_WRITE"},
}

// fillSections writes section-table features into dst (len 255):
// five scalar counters followed by five 50-bucket hashed maps of
// name->raw size, name->entropy, name->virtual size, the entry-point
// section name, and the entry-point section characteristics. Files
// with few sections leave buckets at zero; files with many fold into
// the same fixed space.
func fillSections(dst []float32, p *parsedPE) {
	if !p.parsed() {
		return
	}
	sections := p.file.Sections

	var zeroSize, unnamed, execRead, writable int
	for _, s := range sections {
		if s.Size == 0 {
			zeroSize++
		}
		if s.Name == "" {
			unnamed++
		}
		if s.Characteristics&0x20000000 != 0 && s.Characteristics&0x40000000 != 0 {
			execRead++
		}
		if s.Characteristics&0x80000000 != 0 {
			writable++
		}
	}
	dst[0] = float32(len(sections))
	dst[1] = float32(zeroSize)
	dst[2] = float32(unnamed)
	dst[3] = float32(execRead)
	dst[4] = float32(writable)

	sizes := dst[5:55]
	entropies := dst[55:105]
	vsizes := dst[105:155]
	entryName := dst[155:205]
	entryFlags := dst[205:255]

	for _, s := range sections {
		bucketAdd(sizes, s.Name, float32(s.Size))
		bucketAdd(entropies, s.Name, float32(sectionEntropy(p, s)))
		bucketAdd(vsizes, s.Name, float32(s.VirtualSize))
	}

	if entry := entrySection(p); entry != nil {
		bucketAdd(entryName, entry.Name, 1)
		for _, flag := range sectionCharacteristicNames {
			if entry.Characteristics&flag.bit != 0 {
				bucketAdd(entryFlags, flag.name, 1)
			}
		}
	}
}

func sectionEntropy(p *parsedPE, s *pe.Section) float64 {
	raw, ok := p.bytesAt(int64(s.Offset), int(s.Size))
	if !ok {
		return 0
	}
	return shannonEntropy(raw)
}

func entrySection(p *parsedPE) *pe.Section {
	if p.entryPoint == 0 {
		return nil
	}
	for _, s := range p.file.Sections {
		span := s.VirtualSize
		if s.Size > span {
			span = s.Size
		}
		if p.entryPoint >= s.VirtualAddress && p.entryPoint < s.VirtualAddress+span {
			return s
		}
	}
	return nil
}

// fillImports writes the import table into dst (len 1280): hashed
// library names in the first 256 buckets and hashed library:function
// pairs in the remaining 1024.
func fillImports(dst []float32, p *parsedPE) {
	if !p.parsed() {
		return
	}
	libraries := dst[:256]
	pairs := dst[256:]

	for _, library := range p.sortedImportLibraries() {
		bucketAdd(libraries, library, 1)
	}
	for _, imp := range p.imports {
		bucketAdd(pairs, imp.library+":"+imp.function, 1)
	}
}

func fillExports(dst []float32, p *parsedPE) {
	for _, name := range p.exports {
		bucketAdd(dst, name, 1)
	}
}

// fillDataDirectories writes (size, virtual address) for the first 15
// data directories into dst (len 30).
func fillDataDirectories(dst []float32, p *parsedPE) {
	for i := 0; i < 15 && i < len(p.dataDirs); i++ {
		dst[2*i] = float32(p.dataDirs[i].Size)
		dst[2*i+1] = float32(p.dataDirs[i].VirtualAddress)
	}
}

// fillRichHeader hashes the decoded linker fingerprint entries
// (composite tool IDs weighted by use count) into dst (len 64).
func fillRichHeader(dst []float32, p *parsedPE) {
	for _, entry := range p.rich {
		bucketAdd(dst, fmt.Sprintf("comp_%08x", entry.compID), float32(entry.count))
	}
}

// fillOverlay writes trailing-data features into dst (len 9): size,
// ratio to file size, entropy, and indicator flags for common embedded
// container formats.
func fillOverlay(dst []float32, p *parsedPE, fileSize int) {
	overlay := p.overlay
	if len(overlay) == 0 {
		return
	}
	dst[0] = float32(len(overlay))
	if fileSize > 0 {
		dst[1] = float32(float64(len(overlay)) / float64(fileSize))
	}
	dst[2] = float32(shannonEntropy(overlay))

	magics := []struct {
		index  int
		prefix []byte
	}{
		{3, []byte("PK\x03\x04")},
		{4, []byte("Rar!")},
		{5, []byte("7z\xbc\xaf")},
		{6, []byte("MSCF")},
		{7, []byte("%PDF")},
		{8, []byte{0x30, 0x82}}, // DER-encoded certificate blob
	}
	for _, magic := range magics {
		if hasPrefix(overlay, magic.prefix) {
			dst[magic.index] = 1
		}
	}
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i, b := range prefix {
		if data[i] != b {
			return false
		}
	}
	return true
}

// fillResources writes resource-directory features into dst (len 50):
// presence, declared size, first-level entry count, and hashed
// first-level type IDs.
func fillResources(dst []float32, p *parsedPE) {
	if !p.res.present {
		return
	}
	dst[0] = 1
	dst[1] = float32(p.res.dirSize)
	dst[2] = float32(len(p.res.entries))
	types := dst[3:]
	for _, id := range p.res.entries {
		bucketAdd(types, fmt.Sprintf("restype_%d", id), 1)
	}
}

// fillDotnet writes CLR features into dst (len 64): presence, runtime
// version, metadata size, and hashed metadata stream name->size pairs.
func fillDotnet(dst []float32, p *parsedPE) {
	if !p.clr.present {
		return
	}
	dst[0] = 1
	dst[1] = float32(p.clr.runtimeMajor)
	dst[2] = float32(p.clr.runtimeMinor)
	dst[3] = float32(p.clr.metadataSize)
	streams := dst[4:]
	for _, stream := range p.clr.streams {
		bucketAdd(streams, stream.name, float32(stream.size))
	}
}
