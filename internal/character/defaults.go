package character

// Built-in character keys.
const (
	KeySecretary = "secretary"
	KeyExecutive = "executive"
	KeyMentor    = "mentor"
)

// DefaultSceneName is the scene a conversation starts in and returns to after
// a full reset.
const DefaultSceneName = "虛擬對話空間"

// DefaultCharacters returns fresh copies of the built-in characters.
func DefaultCharacters() map[string]CharacterTrait {
	return map[string]CharacterTrait{
		KeySecretary: {
			Name:          "林秘書",
			Personality:   "專業、細心、高效、有條理",
			Values:        []string{"守時", "責任感", "忠誠", "保密"},
			SpeechStyle:   "正式、禮貌、簡潔",
			Background:    "畢業於頂尖商學院，有5年高管秘書經驗",
			Profession:    "高級行政秘書",
			Interests:     []string{"時間管理", "商務禮儀", "文書處理"},
			Age:           28,
			Gender:        "女",
			Relationships: map[string]string{},
		},
		KeyExecutive: {
			Name:          "王總監",
			Personality:   "果斷、戰略性、結果導向、領導力強",
			Values:        []string{"效率", "創新", "利潤", "團隊合作"},
			SpeechStyle:   "直接、有力、數據驅動",
			Background:    "從基層做起，15年管理經驗，帶領過百人團隊",
			Profession:    "企業高管",
			Interests:     []string{"市場分析", "策略規劃", "談判技巧"},
			Age:           42,
			Gender:        "男",
			Relationships: map[string]string{},
		},
		KeyMentor: {
			Name:          "小美",
			Personality:   "有好感、注重自身想法、渴望被承認、易怒",
			Values:        []string{"成長", "陪伴", "互動", "不理解"},
			SpeechStyle:   "思考性、情緒化、衝突性",
			Background:    "剛出社會的英語老師，缺乏安全感，渴望獲得主導地位，半年前認識，都是棒球愛好者",
			Profession:    "女友",
			Interests:     []string{"逛街", "追劇", "唱歌"},
			Age:           24,
			Gender:        "女",
			Relationships: map[string]string{},
		},
	}
}

// DefaultScenes returns fresh copies of the built-in scenes keyed by name.
func DefaultScenes() map[string]SceneSetting {
	return map[string]SceneSetting{
		"辦公室": {
			Name:        "辦公室",
			Location:    "現代辦公室",
			Atmosphere:  "專業、忙碌",
			TimePeriod:  "工作日",
			Description: "整潔的辦公室環境，充滿工作的氛圍",
			Weather:     DefaultWeather,
		},
		"咖啡廳": {
			Name:        "咖啡廳",
			Location:    "城市咖啡廳",
			Atmosphere:  "輕鬆、舒適",
			TimePeriod:  "午後",
			Description: "溫馨的咖啡廳，飄散著咖啡香氣",
			Weather:     DefaultWeather,
		},
		"公園": {
			Name:        "公園",
			Location:    "城市公園",
			Atmosphere:  "寧靜、自然",
			TimePeriod:  "週末",
			Description: "綠意盎然的公園，讓人放鬆心情",
			Weather:     DefaultWeather,
		},
		DefaultSceneName: {
			Name:        DefaultSceneName,
			Location:    "虛擬空間",
			Atmosphere:  "未來感、科技",
			TimePeriod:  "現代",
			Description: "數位化的對話空間，充滿科技感",
			Weather:     DefaultWeather,
		},
	}
}
