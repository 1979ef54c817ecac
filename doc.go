/*
Package roadsnap reads and writes road-network snapshots split across
multiple shard files (geographic tiles) and serves point lookups of nodes,
roads and grid cells through bounded, read-through caches.

Each shard carries one offset table per entity class. On open, the tables
are loaded into compact in-memory indexes; payloads stay on disk until a
lookup needs them. When several shards contain the same key (typical at
tile boundaries) the records are reconciled by an injected loader.

Data Structure Documentation

Shard

A shard contains a fixed header, three offset tables and a payload region.
All integers are little-endian.

    Shard layout:
    +--------+------------+------------+------------+---------+-----+---------+
    | header | node table | road table | cell table | record1 | ... | recordN |
    +--------+------------+------------+------------+---------+-----+---------+

    Header (60 bytes):
    +-----------------+-------------------+------------------+--------------------------------+
    | version (int32) | timestamp (int64) | cell lvl (int32) | N/E/S/W bounds (4 x float32)   |
    +-----------------+-------------------+------------------+--------------------------------+
    +--------------------------+-------------------------+-------------------------+
    | node/road/cell counts    | road table off (int64)  | cell table off (int64)  |
    | (3 x int32)              |                         |                         |
    +--------------------------+-------------------------+-------------------------+

The node table starts directly after the header.

    Offset table:
    +---------------+------------------+---------------+------------------+-------+
    | key 1 (int64) | offset 1 (int64) | key 2 (int64) | offset 2 (int64) |  ...  |
    +---------------+------------------+---------------+------------------+-------+

Record

Offsets point at records. A record repeats its key, followed by the payload
length, a compression type indicator and the (possibly snappy-compressed)
payload.

    +-------------+----------------+-------------------------+-----------+
    | key (int64) | length (int32) | compression type (byte) |  payload  |
    +-------------+----------------+-------------------------+-----------+

Grid cells are S2 cells at the level stored in the header; a cell's key is
its S2 cell ID.
*/
package roadsnap
