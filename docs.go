/*

Package relay polls Elasticsearch node statistics and forwards every numeric metric to a
Graphite/Carbon collector over a persistent TCP connection.

A poll cycle fetches the nested /_nodes/stats document, flattens it into dotted metric
paths such as

	Elasticsearch.cluster1.node1.jvm.mem.heap_used_in_bytes

and sends the resulting samples in fixed-size batches using the pickle, plaintext or
Influx line protocol. Broken connections are re-established and the batch retried up to a
configured number of times; a batch that still cannot be delivered is dropped and the next
batch proceeds.

Example

The following flattens a stats document and sends it to a carbon plaintext listener on
port 2003:

	transport, err := relay.NewTransport(relay.TransportConfig{Endpoint: "graphite:2003"})

	nodes, err := relay.ParseValue(strings.NewReader(`{"n1":{"name":"node1","jvm":{"heap":42}}}`))
	samples := relay.NewFlattener().FlattenNodes(nodes, "Elasticsearch.cluster1")

	batcher := &relay.Batcher{Transport: transport, Protocol: relay.Plaintext, BulkSize: 50}
	batcher.Send(ctx, samples)

*/
package relay
