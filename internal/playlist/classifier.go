package playlist

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jamesnetherton/m3u"

	"github.com/any-hub/vod-cache/internal/config"
)

// Classifier 持有预编译的正则规则，可在多个 goroutine 间共享。
type Classifier struct {
	skip       []*regexp.Regexp
	groupStrip []*regexp.Regexp
	season     []*regexp.Regexp
	episode    []*regexp.Regexp
}

// NewClassifier 编译分类规则，任一正则非法即返回错误。
func NewClassifier(rules config.ClassifyConfig) (*Classifier, error) {
	var (
		c   Classifier
		err error
	)
	if c.skip, err = compileAll("Skip", rules.Skip); err != nil {
		return nil, err
	}
	if c.groupStrip, err = compileAll("GroupStrip", rules.GroupStrip); err != nil {
		return nil, err
	}
	if c.season, err = compileAll("Season", rules.Season); err != nil {
		return nil, err
	}
	if c.episode, err = compileAll("Episode", rules.Episode); err != nil {
		return nil, err
	}
	return &c, nil
}

func compileAll(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for idx, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s[%d]: %w", field, idx, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify 返回条目分类结果；命中跳过规则或缺少地址时返回 false。
func (c *Classifier) Classify(track m3u.Track) (Entry, bool) {
	uri := strings.TrimSpace(track.URI)
	if uri == "" {
		return Entry{}, false
	}
	line := extinfLine(track)
	for _, re := range c.skip {
		if re.MatchString(line) {
			return Entry{}, false
		}
	}

	name := strings.TrimSpace(track.Name)
	season, hasSeason := c.matchSeason(name)
	itemType := Movie
	if hasSeason && c.hasEpisode(name) {
		itemType = TVShow
	} else {
		season = ""
	}

	tags := make(map[string]string, len(track.Tags))
	for _, tag := range track.Tags {
		tags[tag.Name] = tag.Value
	}

	return Entry{
		Name:      name,
		FileName:  fileNameOf(uri),
		GroupName: c.groupName(name),
		ItemType:  itemType,
		Season:    season,
		URL:       uri,
		Length:    track.Length,
		Tags:      tags,
	}, true
}

// matchSeason 取第一条命中规则的最后一个子匹配。
func (c *Classifier) matchSeason(name string) (string, bool) {
	for _, re := range c.season {
		match := re.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		return match[len(match)-1], true
	}
	return "", false
}

func (c *Classifier) hasEpisode(name string) bool {
	for _, re := range c.episode {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (c *Classifier) groupName(name string) string {
	group := name
	for _, set := range [][]*regexp.Regexp{c.groupStrip, c.season, c.episode} {
		for _, re := range set {
			group = re.ReplaceAllString(group, "")
		}
	}
	for strings.Contains(group, "  ") {
		group = strings.ReplaceAll(group, "  ", " ")
	}
	group = strings.NewReplacer("/", " ", `\`, " ").Replace(group)
	group = strings.TrimSpace(group)
	if group == "" {
		group = strings.TrimSpace(strings.NewReplacer("/", " ", `\`, " ").Replace(name))
	}
	return group
}

// extinfLine 还原 #EXTINF 行，跳过规则针对整行（含 group-title 等属性）匹配。
func extinfLine(track m3u.Track) string {
	var b strings.Builder
	b.WriteString("#EXTINF:")
	b.WriteString(strconv.Itoa(track.Length))
	for _, tag := range track.Tags {
		b.WriteString(" ")
		b.WriteString(tag.Name)
		b.WriteString(`="`)
		b.WriteString(tag.Value)
		b.WriteString(`"`)
	}
	b.WriteString(",")
	b.WriteString(track.Name)
	return b.String()
}

func fileNameOf(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil && parsed.Path != "" {
		return path.Base(parsed.Path)
	}
	if idx := strings.LastIndexByte(rawURL, '/'); idx >= 0 {
		return rawURL[idx+1:]
	}
	return rawURL
}

// SortedTags 以稳定顺序返回标签，便于重新输出 #EXTINF 行。
func (e Entry) SortedTags() []m3u.Tag {
	names := make([]string, 0, len(e.Tags))
	for name := range e.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	tags := make([]m3u.Tag, 0, len(names))
	for _, name := range names {
		tags = append(tags, m3u.Tag{Name: name, Value: e.Tags[name]})
	}
	return tags
}
