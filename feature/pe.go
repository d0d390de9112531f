package feature

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"sort"
	"strings"
)

// parsedPE is a tolerant view over a possibly malformed PE image.
// Every field is best-effort: whatever could not be decoded stays at
// its zero value and the corresponding features become sentinels.
type parsedPE struct {
	data []byte
	file *pe.File

	is64               bool
	magic              uint16
	subsystem          uint16
	dllCharacteristics uint16
	sizeOfCode         uint32
	sizeOfHeaders      uint32
	sizeOfHeapCommit   uint64
	sizeOfImage        uint32
	entryPoint         uint32
	imageVersion       [2]uint16
	linkerVersion      [2]uint8
	osVersion          [2]uint16
	subsystemVersion   [2]uint16

	dataDirs []pe.DataDirectory
	imports  []importEntry
	exports  []string
	rich     []richEntry
	overlay  []byte
	clr      clrInfo
	res      resourceInfo
}

type importEntry struct {
	library  string
	function string
}

type richEntry struct {
	compID uint32
	count  uint32
}

type clrInfo struct {
	present      bool
	runtimeMajor uint16
	runtimeMinor uint16
	metadataSize uint32
	streams      []clrStream
}

type clrStream struct {
	name string
	size uint32
}

type resourceInfo struct {
	present bool
	dirSize uint32
	entries []uint32 // first-level entry name/ID fields, in table order
}

// parsePE never fails: header-level damage yields a view with file set
// to nil so PE-dependent feature groups degrade to zeros. The recover
// guards against pathological inputs that slip past debug/pe's own
// validation.
func parsePE(data []byte) (p *parsedPE) {
	p = &parsedPE{data: data}
	defer func() {
		if r := recover(); r != nil {
			p.file = nil
		}
	}()

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		p.parseRichHeader()
		return p
	}
	p.file = f

	switch opt := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		p.magic = opt.Magic
		p.subsystem = opt.Subsystem
		p.dllCharacteristics = opt.DllCharacteristics
		p.sizeOfCode = opt.SizeOfCode
		p.sizeOfHeaders = opt.SizeOfHeaders
		p.sizeOfHeapCommit = uint64(opt.SizeOfHeapCommit)
		p.sizeOfImage = opt.SizeOfImage
		p.entryPoint = opt.AddressOfEntryPoint
		p.imageVersion = [2]uint16{opt.MajorImageVersion, opt.MinorImageVersion}
		p.linkerVersion = [2]uint8{opt.MajorLinkerVersion, opt.MinorLinkerVersion}
		p.osVersion = [2]uint16{opt.MajorOperatingSystemVersion, opt.MinorOperatingSystemVersion}
		p.subsystemVersion = [2]uint16{opt.MajorSubsystemVersion, opt.MinorSubsystemVersion}
		p.dataDirs = opt.DataDirectory[:]
	case *pe.OptionalHeader64:
		p.is64 = true
		p.magic = opt.Magic
		p.subsystem = opt.Subsystem
		p.dllCharacteristics = opt.DllCharacteristics
		p.sizeOfCode = opt.SizeOfCode
		p.sizeOfHeaders = opt.SizeOfHeaders
		p.sizeOfHeapCommit = opt.SizeOfHeapCommit
		p.sizeOfImage = opt.SizeOfImage
		p.entryPoint = opt.AddressOfEntryPoint
		p.imageVersion = [2]uint16{opt.MajorImageVersion, opt.MinorImageVersion}
		p.linkerVersion = [2]uint8{opt.MajorLinkerVersion, opt.MinorLinkerVersion}
		p.osVersion = [2]uint16{opt.MajorOperatingSystemVersion, opt.MinorOperatingSystemVersion}
		p.subsystemVersion = [2]uint16{opt.MajorSubsystemVersion, opt.MinorSubsystemVersion}
		p.dataDirs = opt.DataDirectory[:]
	}

	p.parseImports()
	p.parseExports()
	p.parseRichHeader()
	p.parseOverlay()
	p.parseCLR()
	p.parseResources()
	return p
}

func (p *parsedPE) parsed() bool {
	return p != nil && p.file != nil
}

func (p *parsedPE) dataDir(index int) (pe.DataDirectory, bool) {
	if index < 0 || index >= len(p.dataDirs) {
		return pe.DataDirectory{}, false
	}
	dir := p.dataDirs[index]
	return dir, dir.VirtualAddress != 0
}

// rvaToOffset maps a virtual address to a file offset through the
// section table, falling back to identity inside the raw headers.
func (p *parsedPE) rvaToOffset(rva uint32) (int64, bool) {
	if !p.parsed() {
		return 0, false
	}
	for _, s := range p.file.Sections {
		span := s.VirtualSize
		if s.Size > span {
			span = s.Size
		}
		if rva >= s.VirtualAddress && rva < s.VirtualAddress+span {
			return int64(rva-s.VirtualAddress) + int64(s.Offset), true
		}
	}
	if p.sizeOfHeaders > 0 && rva < p.sizeOfHeaders {
		return int64(rva), true
	}
	return 0, false
}

func (p *parsedPE) bytesAt(offset int64, n int) ([]byte, bool) {
	if offset < 0 || n < 0 || offset+int64(n) > int64(len(p.data)) {
		return nil, false
	}
	return p.data[offset : offset+int64(n)], true
}

func (p *parsedPE) cstringAt(offset int64, max int) (string, bool) {
	if offset < 0 || offset >= int64(len(p.data)) {
		return "", false
	}
	end := offset + int64(max)
	if end > int64(len(p.data)) {
		end = int64(len(p.data))
	}
	raw := p.data[offset:end]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), true
}

func (p *parsedPE) parseImports() {
	if !p.parsed() {
		return
	}
	symbols, err := p.file.ImportedSymbols()
	if err != nil {
		return
	}
	p.imports = make([]importEntry, 0, len(symbols))
	for _, sym := range symbols {
		// debug/pe renders imports as "Function:library.dll".
		function, library, found := cutLast(sym)
		if !found {
			function, library = sym, ""
		}
		p.imports = append(p.imports, importEntry{
			library:  strings.ToLower(library),
			function: function,
		})
	}
}

func cutLast(s string) (before, after string, found bool) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

const (
	maxExportNames   = 8192
	maxExportNameLen = 256
)

// parseExports walks the export directory by hand; debug/pe does not
// expose it.
func (p *parsedPE) parseExports() {
	dir, ok := p.dataDir(0)
	if !ok {
		return
	}
	offset, ok := p.rvaToOffset(dir.VirtualAddress)
	if !ok {
		return
	}
	raw, ok := p.bytesAt(offset, 40)
	if !ok {
		return
	}
	numberOfNames := binary.LittleEndian.Uint32(raw[24:28])
	addressOfNames := binary.LittleEndian.Uint32(raw[32:36])
	if numberOfNames == 0 {
		return
	}
	if numberOfNames > maxExportNames {
		numberOfNames = maxExportNames
	}
	namesOffset, ok := p.rvaToOffset(addressOfNames)
	if !ok {
		return
	}
	table, ok := p.bytesAt(namesOffset, int(numberOfNames)*4)
	if !ok {
		return
	}
	for i := 0; i < int(numberOfNames); i++ {
		nameRVA := binary.LittleEndian.Uint32(table[i*4 : i*4+4])
		nameOffset, ok := p.rvaToOffset(nameRVA)
		if !ok {
			continue
		}
		if name, ok := p.cstringAt(nameOffset, maxExportNameLen); ok && name != "" {
			p.exports = append(p.exports, name)
		}
	}
}

var (
	richMarker = []byte("Rich")
	dansMagic  = uint32(0x536e6144) // "DanS"
)

// parseRichHeader decodes the undocumented linker fingerprint between
// the DOS stub and the PE signature. It works on raw bytes and so
// survives files debug/pe rejects.
func (p *parsedPE) parseRichHeader() {
	limit := len(p.data)
	if limit > 4096 {
		limit = 4096
	}
	region := p.data[:limit]
	richAt := bytes.Index(region, richMarker)
	if richAt < 0 || richAt+8 > len(region) {
		return
	}
	key := binary.LittleEndian.Uint32(region[richAt+4 : richAt+8])

	// Walk backwards from "Rich" to the xor-masked "DanS" start.
	start := -1
	for off := richAt - 4; off >= 0; off -= 4 {
		v := binary.LittleEndian.Uint32(region[off:off+4]) ^ key
		if v == dansMagic {
			start = off
			break
		}
	}
	if start < 0 {
		return
	}
	// Entries begin after "DanS" and three masked padding dwords.
	for off := start + 16; off+8 <= richAt; off += 8 {
		compID := binary.LittleEndian.Uint32(region[off:off+4]) ^ key
		count := binary.LittleEndian.Uint32(region[off+4:off+8]) ^ key
		p.rich = append(p.rich, richEntry{compID: compID, count: count})
	}
}

// parseOverlay isolates trailing bytes past the last section's raw
// data, a common carrier for appended payloads and signatures.
func (p *parsedPE) parseOverlay() {
	if !p.parsed() {
		return
	}
	end := int64(p.sizeOfHeaders)
	for _, s := range p.file.Sections {
		if sectionEnd := int64(s.Offset) + int64(s.Size); sectionEnd > end {
			end = sectionEnd
		}
	}
	if end > 0 && end < int64(len(p.data)) {
		p.overlay = p.data[end:]
	}
}

const (
	maxCLRStreams    = 32
	maxCLRStreamName = 32
)

// parseCLR reads the COM descriptor and the .NET metadata stream
// headers when the image hosts the CLR.
func (p *parsedPE) parseCLR() {
	dir, ok := p.dataDir(14)
	if !ok {
		return
	}
	offset, ok := p.rvaToOffset(dir.VirtualAddress)
	if !ok {
		return
	}
	cor20, ok := p.bytesAt(offset, 24)
	if !ok {
		return
	}
	p.clr.present = true
	p.clr.runtimeMajor = binary.LittleEndian.Uint16(cor20[4:6])
	p.clr.runtimeMinor = binary.LittleEndian.Uint16(cor20[6:8])
	metadataRVA := binary.LittleEndian.Uint32(cor20[8:12])
	p.clr.metadataSize = binary.LittleEndian.Uint32(cor20[12:16])

	metaOffset, ok := p.rvaToOffset(metadataRVA)
	if !ok {
		return
	}
	header, ok := p.bytesAt(metaOffset, 16)
	if !ok || binary.LittleEndian.Uint32(header[0:4]) != 0x424a5342 { // "BSJB"
		return
	}
	versionLen := int64(binary.LittleEndian.Uint32(header[12:16]))
	if versionLen < 0 || versionLen > 256 {
		return
	}
	cursor := metaOffset + 16 + versionLen
	tail, ok := p.bytesAt(cursor, 4)
	if !ok {
		return
	}
	streams := int(binary.LittleEndian.Uint16(tail[2:4]))
	if streams > maxCLRStreams {
		streams = maxCLRStreams
	}
	cursor += 4
	for i := 0; i < streams; i++ {
		head, ok := p.bytesAt(cursor, 8)
		if !ok {
			return
		}
		size := binary.LittleEndian.Uint32(head[4:8])
		name, ok := p.cstringAt(cursor+8, maxCLRStreamName)
		if !ok {
			return
		}
		p.clr.streams = append(p.clr.streams, clrStream{name: name, size: size})
		// Stream names are null-padded to a 4-byte boundary.
		nameLen := int64(len(name)) + 1
		cursor += 8 + (nameLen+3)&^3
	}
}

const maxResourceEntries = 64

// parseResources reads the first level of the resource directory,
// enough to fingerprint which resource types a file declares.
func (p *parsedPE) parseResources() {
	dir, ok := p.dataDir(2)
	if !ok {
		return
	}
	offset, ok := p.rvaToOffset(dir.VirtualAddress)
	if !ok {
		return
	}
	header, ok := p.bytesAt(offset, 16)
	if !ok {
		return
	}
	p.res.present = true
	p.res.dirSize = dir.Size
	entries := int(binary.LittleEndian.Uint16(header[12:14])) + int(binary.LittleEndian.Uint16(header[14:16]))
	if entries > maxResourceEntries {
		entries = maxResourceEntries
	}
	for i := 0; i < entries; i++ {
		entry, ok := p.bytesAt(offset+16+int64(i)*8, 8)
		if !ok {
			return
		}
		p.res.entries = append(p.res.entries, binary.LittleEndian.Uint32(entry[0:4]))
	}
}

// sortedImportLibraries returns the distinct imported library names in
// lexical order so hashed accumulation stays order-independent.
func (p *parsedPE) sortedImportLibraries() []string {
	seen := make(map[string]bool, len(p.imports))
	var libraries []string
	for _, imp := range p.imports {
		if imp.library == "" || seen[imp.library] {
			continue
		}
		seen[imp.library] = true
		libraries = append(libraries, imp.library)
	}
	sort.Strings(libraries)
	return libraries
}
