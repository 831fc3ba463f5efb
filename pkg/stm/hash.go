package stm

import (
	"github.com/cardano-stm/mithril-core/pkg/merkle"
	"golang.org/x/crypto/blake2b"
)

func blake2bNode(data []byte) merkle.Node {
	return merkle.Node(blake2b.Sum256(data))
}
