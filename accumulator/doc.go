/*
This package contains the tree structure used in the Utreexo accumulator.
It is coin agnostic. Bitcoin specific code lives in btcacc and wire.

Jargon:

	Perfect tree - A tree with 2**x leaves.
	Row - Height in the forest. Leaves are on row 0.
	Root - Top of a perfect tree. A forest has one tree per set bit of its
	       leaf count, tallest on the left.

Nodes are addressed by (row, offset). A forest with 7 leaves looks like:

	row 2:  (2,0)
	        |-------\
	row 1:  (1,0)   (1,1)   (1,2)
	        |---\   |---\   |---\
	row 0:  00  01  02  03  04  05  06

Its roots are (2,0), (1,2) and (0,6).

Forest:

Forest keeps every node, one slice per row. Bridge nodes use it to prove
leaves.

Stump:

Stump keeps only the roots and the leaf count. Compact state nodes use it; a
block's spent leaves come with a BatchProof that is checked against the roots
and then used to delete the leaves.

Deletion:

Deleting leaves leaves behind perfect subtrees whose hashes are known: the
siblings the proof supplied and the roots of untouched trees. These are laid
down again tallest first, left to right, and merged like additions. Positions
of the remaining leaves change; the leaf count always shrinks by the number of
deleted leaves.
*/
package accumulator
