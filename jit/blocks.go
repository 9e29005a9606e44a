package jit

import "sort"

// BasicBlock is a maximal straight-line instruction run within a
// source section (§4.6, glossary "Basic Block"), with an estimated
// execution frequency used to drive hotspot promotion.
type BasicBlock struct {
	StartOffset        int
	Size                int
	EstimatedFrequency uint32
}

// identifyBasicBlocks builds the leader set over x86_64 code bytes —
// entry, every branch target, the instruction after every branch, and
// the instruction after every return (§4.6's "BasicBlock" strategy) —
// then slices the section into blocks between consecutive leaders.
// Grounded on original_source's identify_basic_blocks.
func identifyBasicBlocks(code []byte) []BasicBlock {
	leaders := map[int]struct{}{0: {}}

	for i := 0; i < len(code); {
		switch {
		case code[i] == 0xE8 && i+5 <= len(code): // CALL rel32
			target := i + 5 + int(int32FromLE(code[i+1:i+5]))
			if target >= 0 && target < len(code) {
				leaders[target] = struct{}{}
			}
			leaders[i+5] = struct{}{}
			i += 5
		case code[i] == 0xE9 && i+5 <= len(code): // JMP rel32
			target := i + 5 + int(int32FromLE(code[i+1:i+5]))
			if target >= 0 && target < len(code) {
				leaders[target] = struct{}{}
			}
			leaders[i+5] = struct{}{}
			i += 5
		case code[i] == 0xEB && i+2 <= len(code): // JMP rel8
			target := i + 2 + int(int8(code[i+1]))
			if target >= 0 && target < len(code) {
				leaders[target] = struct{}{}
			}
			leaders[i+2] = struct{}{}
			i += 2
		case code[i] == 0x0F && i+1 < len(code) && code[i+1]&0xF0 == 0x80 && i+6 <= len(code): // Jcc rel32
			target := i + 6 + int(int32FromLE(code[i+2:i+6]))
			if target >= 0 && target < len(code) {
				leaders[target] = struct{}{}
			}
			leaders[i+6] = struct{}{}
			i += 6
		case code[i] >= 0x70 && code[i] <= 0x7F && i+2 <= len(code): // Jcc rel8
			target := i + 2 + int(int8(code[i+1]))
			if target >= 0 && target < len(code) {
				leaders[target] = struct{}{}
			}
			leaders[i+2] = struct{}{}
			i += 2
		case code[i] == 0xC3: // RET
			leaders[i+1] = struct{}{}
			i++
		default:
			i++
		}
	}

	offsets := make([]int, 0, len(leaders))
	for off := range leaders {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)

	blocks := make([]BasicBlock, 0, len(offsets))
	for i, start := range offsets {
		end := len(code)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		if start >= len(code) || end <= start {
			continue
		}
		blocks = append(blocks, BasicBlock{StartOffset: start, Size: end - start})
	}
	return blocks
}

// classifyFrequency assigns the three-tier estimated_frequency bands
// from §4.6: loop-resident blocks 1000, function prologues 100,
// everything else 10.
func classifyFrequency(block BasicBlock, code []byte) uint32 {
	switch {
	case isInLoop(block.StartOffset, code):
		return 1000
	case isFunctionPrologue(block.StartOffset, code):
		return 100
	default:
		return 10
	}
}

// isInLoop reports whether a short backward branch targeting at or
// before offset appears within the next 1000 bytes, the same bounded
// forward scan as the original's is_in_loop heuristic.
func isInLoop(offset int, code []byte) bool {
	end := offset + 1000
	if end > len(code) {
		end = len(code)
	}
	for i := offset; i+2 <= end; i++ {
		isCond := code[i] >= 0x70 && code[i] <= 0x7F
		if isCond || code[i] == 0xE2 { // Jcc rel8 or LOOP
			rel := int8(code[i+1])
			if rel < 0 && i+2+int(rel) <= offset {
				return true
			}
		}
	}
	return false
}

var prologuePatterns = [][]byte{
	{0x55, 0x48, 0x89, 0xE5}, // push rbp; mov rbp, rsp
	{0x48, 0x83, 0xEC},       // sub rsp, imm8
	{0x48, 0x81, 0xEC},       // sub rsp, imm32
}

// isFunctionPrologue matches the canonical x86_64 prologue byte
// patterns at offset, mirroring original_source's is_function_prologue.
func isFunctionPrologue(offset int, code []byte) bool {
	for _, pat := range prologuePatterns {
		if offset+len(pat) <= len(code) && bytesEqual(code[offset:offset+len(pat)], pat) {
			return true
		}
	}
	return false
}

func int32FromLE(b []byte) int32 {
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
