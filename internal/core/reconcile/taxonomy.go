package reconcile

// Category 酒款類別
type Category string

const (
	CategoryRed       Category = "red"
	CategoryWhite     Category = "white"
	CategoryRose      Category = "rose"
	CategorySparkling Category = "sparkling"
	CategoryDessert   Category = "dessert"
	CategoryUnknown   Category = "unknown"
)

// StyleBucket 風格分桶，各類別的分桶互不重疊
type StyleBucket string

const (
	BucketRedMedium        StyleBucket = "red-medium"
	BucketRedLight         StyleBucket = "red-light"
	BucketRedFull          StyleBucket = "red-full"
	BucketWhiteCrisp       StyleBucket = "white-crisp"
	BucketWhiteAromatic    StyleBucket = "white-aromatic"
	BucketWhiteRich        StyleBucket = "white-rich"
	BucketRoseDry          StyleBucket = "rose-dry"
	BucketRoseOffDry       StyleBucket = "rose-off-dry"
	BucketSparklingBrut    StyleBucket = "sparkling-brut"
	BucketSparklingSweet   StyleBucket = "sparkling-sweet"
	BucketDessertSweet     StyleBucket = "dessert-sweet"
	BucketDessertFortified StyleBucket = "dessert-fortified"
	BucketUnclassified     StyleBucket = "unclassified"
)

// keywordRule 一組關鍵字對應一個結果
type keywordRule[T any] struct {
	value    T
	keywords []string
}

// 類別關鍵字，依優先序：氣泡 > 粉紅 > 甜點／加烈 > 產區 > 品種
var (
	sparklingIndicators = []string{
		"champagne", "prosecco", "cava", "cremant", "sparkling", "spumante",
		"franciacorta", "sekt", "pet nat", "petillant", "brut", "methode champenoise",
		"moscato d asti", "lambrusco",
	}
	roseIndicators = []string{
		"rose", "rosado", "rosato", "blush", "vin gris", "white zinfandel",
	}
	dessertIndicators = []string{
		"port", "porto", "sherry", "madeira", "marsala", "sauternes", "tokaji",
		"ice wine", "icewine", "eiswein", "late harvest", "vin santo", "banyuls",
		"pedro ximenez", "oloroso", "amontillado", "fortified", "dessert wine", "botrytis",
	}
	regionRules = []keywordRule[Category]{
		{CategoryWhite, []string{
			"chablis", "sancerre", "pouilly fume", "vouvray", "meursault", "puligny",
			"montrachet", "soave", "mosel", "alsace", "muscadet", "rias baixas", "marlborough",
			"gavi", "white burgundy",
		}},
		{CategoryRed, []string{
			"barolo", "barbaresco", "rioja", "ribera del duero", "chianti", "brunello",
			"montalcino", "amarone", "valpolicella", "beaujolais", "cotes du rhone",
			"chateauneuf", "margaux", "pauillac", "saint emilion", "st emilion", "pomerol",
			"medoc", "priorat", "bordeaux", "burgundy", "bourgogne", "napa",
		}},
	}
	varietalRules = []keywordRule[Category]{
		{CategoryWhite, []string{
			"sauvignon blanc", "fume blanc", "chardonnay", "riesling", "pinot grigio",
			"pinot gris", "pinot blanc", "chenin blanc", "chenin", "viognier",
			"gewurztraminer", "albarino", "gruner veltliner", "gruner", "semillon",
			"torrontes", "vermentino", "verdejo", "marsanne", "roussanne", "assyrtiko",
			"picpoul", "white",
		}},
		{CategoryRed, []string{
			"cabernet sauvignon", "cabernet franc", "cabernet", "merlot", "pinot noir",
			"syrah", "shiraz", "malbec", "zinfandel", "grenache", "garnacha", "tempranillo",
			"sangiovese", "nebbiolo", "gamay", "carmenere", "petite sirah", "mourvedre",
			"barbera", "tannat", "primitivo", "red",
		}},
	}
)

// 各類別的合法分桶，第一個為預設
var familyBuckets = map[Category][]keywordRule[StyleBucket]{
	CategoryRed: {
		{BucketRedMedium, []string{"merlot", "sangiovese", "chianti", "tempranillo", "rioja", "grenache", "garnacha", "cotes du rhone", "carmenere", "barbera", "medium bodied"}},
		{BucketRedLight, []string{"pinot noir", "gamay", "beaujolais", "light bodied", "zweigelt", "frappato", "valpolicella"}},
		{BucketRedFull, []string{"cabernet", "syrah", "shiraz", "malbec", "zinfandel", "nebbiolo", "barolo", "amarone", "petite sirah", "mourvedre", "tannat", "full bodied", "bold", "tannic", "napa", "priorat"}},
	},
	CategoryWhite: {
		{BucketWhiteCrisp, []string{"sauvignon blanc", "sancerre", "chablis", "albarino", "pinot grigio", "muscadet", "gruner", "vermentino", "verdejo", "picpoul", "assyrtiko", "crisp", "mineral", "zesty"}},
		{BucketWhiteAromatic, []string{"riesling", "gewurztraminer", "muscat", "moscato", "torrontes", "viognier", "aromatic", "floral", "off dry"}},
		{BucketWhiteRich, []string{"chardonnay", "meursault", "white burgundy", "semillon", "marsanne", "roussanne", "oaked", "buttery", "full bodied", "rich"}},
	},
	CategoryRose: {
		{BucketRoseDry, []string{"provence", "dry", "tavel", "bandol"}},
		{BucketRoseOffDry, []string{"off dry", "semi sweet", "sweet", "white zinfandel", "blush"}},
	},
	CategorySparkling: {
		{BucketSparklingBrut, []string{"brut", "extra brut", "brut nature", "champagne", "cava", "cremant", "dry"}},
		{BucketSparklingSweet, []string{"demi sec", "doux", "moscato d asti", "asti", "brachetto", "sweet"}},
	},
	CategoryDessert: {
		{BucketDessertSweet, []string{"sauternes", "tokaji", "ice wine", "icewine", "eiswein", "late harvest", "vin santo", "botrytis", "noble rot", "sweet"}},
		{BucketDessertFortified, []string{"port", "porto", "sherry", "madeira", "marsala", "banyuls", "pedro ximenez", "oloroso", "amontillado", "fino", "fortified"}},
	},
}

// bucketPriority 分桶關鍵字比對順序，與預設值無關
var bucketPriority = map[Category][]StyleBucket{
	CategoryRed:       {BucketRedFull, BucketRedLight, BucketRedMedium},
	CategoryWhite:     {BucketWhiteCrisp, BucketWhiteAromatic, BucketWhiteRich},
	CategoryRose:      {BucketRoseOffDry, BucketRoseDry},
	CategorySparkling: {BucketSparklingSweet, BucketSparklingBrut},
	CategoryDessert:   {BucketDessertFortified, BucketDessertSweet},
}

// evidence 類別推論結果；strong 代表名稱中出現高優先指標
type evidence struct {
	category Category
	strong   bool
}

// Taxonomy 決定類別與風格分桶，純函式
type Taxonomy struct{}

// NewTaxonomy 創建 Taxonomy
func NewTaxonomy() *Taxonomy {
	return &Taxonomy{}
}

// Normalize 以庫存資料為主，關鍵字強烈矛盾或資料缺漏時才改寫
func (t *Taxonomy) Normalize(item InventoryItem) (Category, StyleBucket) {
	// 菜色不套用酒款分類
	if item.Kind == KindDish {
		return CategoryUnknown, BucketUnclassified
	}

	name := foldText(item.Name)
	text := foldText(item.Name + " " + item.Description)

	category := ParseCategory(item.Category)
	nameEvidence := scanCategory(name)
	switch {
	case category == CategoryUnknown:
		category = scanCategory(text).category
	case nameEvidence.strong && nameEvidence.category != category:
		category = nameEvidence.category
	}

	return category, t.bucket(category, ParseStyleBucket(item.StyleBucket), name, foldText(item.Description))
}

func (t *Taxonomy) bucket(category Category, meta StyleBucket, name, description string) StyleBucket {
	family, ok := familyBuckets[category]
	if !ok {
		return BucketUnclassified
	}
	if meta != "" {
		if inFamily(family, meta) {
			return meta
		}
		// 不屬於此類別的分桶一律改回預設
		return family[0].value
	}

	for _, text := range []string{name, description} {
		for _, b := range bucketPriority[category] {
			for _, rule := range family {
				if rule.value == b && containsAny(text, rule.keywords) {
					return b
				}
			}
		}
	}
	return family[0].value
}

// DefaultBucket 類別的預設分桶
func DefaultBucket(category Category) StyleBucket {
	if family, ok := familyBuckets[category]; ok {
		return family[0].value
	}
	return BucketUnclassified
}

// ValidBucket 分桶是否屬於該類別
func ValidBucket(category Category, bucket StyleBucket) bool {
	if family, ok := familyBuckets[category]; ok {
		return inFamily(family, bucket)
	}
	return bucket == BucketUnclassified
}

func inFamily(family []keywordRule[StyleBucket], bucket StyleBucket) bool {
	for _, rule := range family {
		if rule.value == bucket {
			return true
		}
	}
	return false
}

// scanCategory 依優先序掃描關鍵字
func scanCategory(text string) evidence {
	switch {
	case containsAny(text, sparklingIndicators):
		return evidence{CategorySparkling, true}
	case containsAny(text, roseIndicators):
		return evidence{CategoryRose, true}
	case containsAny(text, dessertIndicators):
		return evidence{CategoryDessert, true}
	}
	for _, rules := range [][]keywordRule[Category]{regionRules, varietalRules} {
		for _, rule := range rules {
			if containsAny(text, rule.keywords) {
				return evidence{rule.value, false}
			}
		}
	}
	return evidence{CategoryUnknown, false}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if containsWord(text, kw) {
			return true
		}
	}
	return false
}

// ParseCategory 解析庫存或模型提供的類別文字
func ParseCategory(s string) Category {
	text := foldText(s)
	if text == "" {
		return CategoryUnknown
	}
	switch {
	case containsWord(text, "sparkling") || containsWord(text, "champagne") || containsWord(text, "bubbles"):
		return CategorySparkling
	case containsWord(text, "rose") || containsWord(text, "rosado") || containsWord(text, "blush"):
		return CategoryRose
	case containsWord(text, "dessert") || containsWord(text, "fortified") || containsWord(text, "sweet"):
		return CategoryDessert
	case containsWord(text, "red") || containsWord(text, "tinto") || containsWord(text, "rouge"):
		return CategoryRed
	case containsWord(text, "white") || containsWord(text, "blanco") || containsWord(text, "blanc"):
		return CategoryWhite
	}
	return CategoryUnknown
}

// ParseStyleBucket 解析分桶文字，無法辨識時回傳空字串
func ParseStyleBucket(s string) StyleBucket {
	text := foldText(s)
	if text == "" {
		return ""
	}
	for _, family := range familyBuckets {
		for _, rule := range family {
			if foldText(string(rule.value)) == text {
				return rule.value
			}
		}
	}
	if text == string(BucketUnclassified) {
		return BucketUnclassified
	}
	return ""
}
