package gqlrequest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/printer"
)

// canonicalize prints the operation followed by the fragments it uses in
// name order, and hashes that text together with the operation name.
// Unused fragments and sibling operations do not affect the hash.
func canonicalize(op *ast.OperationDefinition, fragments map[string]*ast.FragmentDefinition, used map[string]bool) (string, string, error) {
	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	slices.Sort(names)

	defs := make([]ast.Node, 0, len(names)+1)
	defs = append(defs, op)
	for _, name := range names {
		frag, ok := fragments[name]
		if !ok {
			return "", "", fmt.Errorf("fragment %q not found", name)
		}
		defs = append(defs, frag)
	}

	out := printer.Print(ast.NewDocument(&ast.Document{Definitions: defs}))
	printed, ok := out.(string)
	if !ok {
		return "", "", fmt.Errorf("printer returned %T", out)
	}
	return printed, operationHash(printed, operationName(op)), nil
}

// operationHash length-prefixes each part so ("ab","c") and ("a","bc")
// hash differently.
func operationHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
