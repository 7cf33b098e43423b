package asm

import (
	"fmt"
	"testing"
)

func BenchmarkAssembleRepHeavy(b *testing.B) {
	src := "def m x {\n  l:\n    x;l\n}\nrep(256, i) m i\n"
	files := []SourceFile{{Path: "bench.fj", Text: src}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := AssembleFiles(files, Options{W: 64}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAssembleManyLabels(b *testing.B) {
	src := ""
	for i := 0; i < 512; i++ {
		src += fmt.Sprintf("l%d:\n;l%d\n", i, i)
	}
	files := []SourceFile{{Path: "bench.fj", Text: src}}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := AssembleFiles(files, Options{W: 64}); err != nil {
			b.Fatal(err)
		}
	}
}
