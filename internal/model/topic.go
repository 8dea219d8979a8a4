package model

import "strings"

// Topic は記事の分類トピックを表す。列挙された固定集合のみを取る。
type Topic string

const (
	TopicSoftwareEngineering Topic = "Software Engineering"
	TopicDataAnalytics       Topic = "Data Analytics"
	TopicDataScience         Topic = "Data Science"
	TopicSoftwareTesting     Topic = "Software Testing"
	TopicProductManagement   Topic = "Product Management"
	// TopicGeneral は分類できなかった記事のデフォルトトピック。
	TopicGeneral Topic = "General"
)

var allTopics = []Topic{
	TopicSoftwareEngineering,
	TopicDataAnalytics,
	TopicDataScience,
	TopicSoftwareTesting,
	TopicProductManagement,
	TopicGeneral,
}

// Topics は全トピックを定義順で返す。
func Topics() []Topic {
	out := make([]Topic, len(allTopics))
	copy(out, allTopics)
	return out
}

// ParseTopic は文字列をTopicに変換する。大文字小文字と前後の空白は無視する。
func ParseTopic(s string) (Topic, bool) {
	s = strings.TrimSpace(s)
	for _, t := range allTopics {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// Valid はトピックが列挙値のいずれかであればtrueを返す。
func (t Topic) Valid() bool {
	for _, v := range allTopics {
		if t == v {
			return true
		}
	}
	return false
}

func (t Topic) String() string {
	return string(t)
}
