package dataset

import "math"

// AggregateAlbum rolls the tracks of one album up to album-level metrics.
// All tracks are assumed to belong to the same album; an empty slice yields a
// zero value.
func AggregateAlbum(tracks []JoinedTrack) AlbumFeatures {
	if len(tracks) == 0 {
		return AlbumFeatures{}
	}

	first := tracks[0]
	out := AlbumFeatures{
		Album:      first.Album,
		Artist:     first.Artist,
		Genre:      first.Genre,
		Rating:     first.Rating,
		TrackCount: len(tracks),
	}

	var durationMS, modes int
	var tempo, dance, energy, loudness, speech, acoustic, instrumental, liveness, valence float64
	for _, t := range tracks {
		durationMS += t.DurationMS
		modes += t.Mode
		tempo += t.Tempo
		dance += t.Danceability
		energy += t.Energy
		loudness += t.Loudness
		speech += t.Speechiness
		acoustic += t.Acousticness
		instrumental += t.Instrumentalness
		liveness += t.Liveness
		valence += t.Valence
	}

	n := float64(len(tracks))
	out.DurationMinutes = round(float64(durationMS)/1000/60, 2)
	out.MeanTempo = round(tempo/n, 2)
	out.Majorness = round(float64(modes)/n, 4)
	out.MeanDanceability = round(dance/n, 4)
	out.MeanEnergy = round(energy/n, 4)
	out.MeanLoudness = round(loudness/n, 2)
	out.MeanSpeechiness = round(speech/n, 4)
	out.MeanAcousticness = round(acoustic/n, 4)
	out.MeanInstrumentalness = round(instrumental/n, 4)
	out.MeanLiveness = round(liveness/n, 4)
	out.MeanValence = round(valence/n, 4)

	return out
}

// AggregateAlbums groups joined tracks by album key and aggregates each
// group, preserving first-seen album order.
func AggregateAlbums(tracks []JoinedTrack, policy JoinPolicy) []AlbumFeatures {
	groups := make(map[string][]JoinedTrack)
	var order []string
	for _, t := range tracks {
		key := policy.Key(t.Artist, t.Album)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	out := make([]AlbumFeatures, 0, len(order))
	for _, key := range order {
		out = append(out, AggregateAlbum(groups[key]))
	}
	return out
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
