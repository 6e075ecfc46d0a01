/*
Package blocksync keeps the local chain in step with its peers.

Peers exchange STATUS messages carrying their best height and genesis.
A node that learns of a peer ahead of it asks for the missing range with
GET_BLOCKS and receives BLOCKS in return; freshly mined blocks arrive as
PROPOSAL and are relayed once.

Received blocks go to the OrphanResolver. Blocks whose parent is stored
are handed, ancestors first, to PendingBlocks, which validates them and
writes them to the store. The rest wait in the orphan cache until a write
makes their subgraph attachable, or until the chain settles past their
height and a sweep drops them.
*/
package blocksync
