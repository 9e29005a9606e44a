package jit

import "testing"

func TestIdentifyBasicBlocksSplitsOnCallAndRet(t *testing.T) {
	code := []byte{
		0x55, 0x48, 0x89, 0xE5, // push rbp; mov rbp, rsp (prologue)
		0xE8, 0x00, 0x00, 0x00, 0x00, // call rel32 == +0 (targets next instruction)
		0xC3, // ret
	}
	blocks := identifyBasicBlocks(code)
	if len(blocks) < 2 {
		t.Fatalf("expected at least 2 basic blocks, got %d", len(blocks))
	}
	if blocks[0].StartOffset != 0 {
		t.Fatalf("expected first block to start at entry, got %d", blocks[0].StartOffset)
	}
}

func TestIsFunctionPrologueMatchesCanonicalPattern(t *testing.T) {
	code := []byte{0x55, 0x48, 0x89, 0xE5, 0x90}
	if !isFunctionPrologue(0, code) {
		t.Fatalf("expected canonical push rbp; mov rbp, rsp to match")
	}
	if isFunctionPrologue(4, code) {
		t.Fatalf("expected NOP offset to not match a prologue pattern")
	}
}

func TestIsInLoopDetectsBackwardBranch(t *testing.T) {
	// JNZ rel8 = -10, placed right after a short run, branching back to
	// offset 2 (10 + 2 - 10) from offset 10.
	code := make([]byte, 12)
	code[10] = 0x75 // JNZ
	code[11] = byte(int8(-10))
	if !isInLoop(2, code) {
		t.Fatalf("expected backward branch at offset 10 to mark offset 2 as in-loop")
	}
	if isInLoop(11, code) {
		t.Fatalf("scan starting past the branch opcode should find no loop")
	}
}

func TestClassifyFrequencyBands(t *testing.T) {
	loopCode := make([]byte, 12)
	loopCode[10] = 0x75
	loopCode[11] = byte(int8(-10))
	block := BasicBlock{StartOffset: 2, Size: 1}
	if got := classifyFrequency(block, loopCode); got != 1000 {
		t.Fatalf("expected loop-resident block frequency 1000, got %d", got)
	}

	prologueCode := []byte{0x55, 0x48, 0x89, 0xE5}
	block = BasicBlock{StartOffset: 0, Size: 4}
	if got := classifyFrequency(block, prologueCode); got != 100 {
		t.Fatalf("expected prologue block frequency 100, got %d", got)
	}

	plain := []byte{0x90, 0x90}
	block = BasicBlock{StartOffset: 0, Size: 2}
	if got := classifyFrequency(block, plain); got != 10 {
		t.Fatalf("expected default block frequency 10, got %d", got)
	}
}
