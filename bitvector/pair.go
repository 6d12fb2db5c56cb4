// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bitvector

// MergePair combines the bit vectors of the two mates of a template.  A
// position called by only one mate takes that call; agreeing calls are kept;
// conflicting calls become NoInfo.  Neither input is modified.
func MergePair(a, b BitVector) BitVector {
	merged := make(BitVector, len(a)+len(b))
	for pos, sym := range a {
		merged[pos] = sym
	}
	for pos, symB := range b {
		symA, ok := merged[pos]
		switch {
		case !ok || symA == NoInfo:
			merged[pos] = symB
		case symB == NoInfo || symA == symB:
		default:
			merged[pos] = NoInfo
		}
	}
	return merged
}
