// Package playlist reads IPTV m3u playlists and classifies each track as a
// movie or a TV episode, deriving the group folder it belongs to.
package playlist

// ItemType 区分电影与剧集。
type ItemType int

const (
	Movie ItemType = iota
	TVShow
)

func (t ItemType) String() string {
	if t == TVShow {
		return "tvshow"
	}
	return "movie"
}

// Entry 是一条分类后的播放列表条目。
type Entry struct {
	Name      string
	FileName  string
	GroupName string
	ItemType  ItemType
	// Season 为季号匹配结果，电影为空。
	Season string
	URL    string
	Length int
	Tags   map[string]string
}
