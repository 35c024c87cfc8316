package router

// alias maps a spoken form to its canonical name.
type alias struct {
	form      string
	canonical string
}

// indianRegions are states and union territories with common spellings
// and Devanagari forms.
var indianRegions = []alias{
	{"andhra pradesh", "Andhra Pradesh"},
	{"arunachal pradesh", "Arunachal Pradesh"},
	{"assam", "Assam"},
	{"bihar", "Bihar"},
	{"chhattisgarh", "Chhattisgarh"},
	{"chattisgarh", "Chhattisgarh"},
	{"goa", "Goa"},
	{"gujarat", "Gujarat"},
	{"haryana", "Haryana"},
	{"himachal pradesh", "Himachal Pradesh"},
	{"jharkhand", "Jharkhand"},
	{"karnataka", "Karnataka"},
	{"kerala", "Kerala"},
	{"madhya pradesh", "Madhya Pradesh"},
	{"maharashtra", "Maharashtra"},
	{"manipur", "Manipur"},
	{"meghalaya", "Meghalaya"},
	{"mizoram", "Mizoram"},
	{"nagaland", "Nagaland"},
	{"odisha", "Odisha"},
	{"orissa", "Odisha"},
	{"punjab", "Punjab"},
	{"rajasthan", "Rajasthan"},
	{"sikkim", "Sikkim"},
	{"tamil nadu", "Tamil Nadu"},
	{"telangana", "Telangana"},
	{"tripura", "Tripura"},
	{"uttar pradesh", "Uttar Pradesh"},
	{"uttarakhand", "Uttarakhand"},
	{"uttaranchal", "Uttarakhand"},
	{"west bengal", "West Bengal"},
	{"andaman and nicobar", "Andaman and Nicobar"},
	{"chandigarh", "Chandigarh"},
	{"dadra and nagar haveli", "Dadra and Nagar Haveli and Daman and Diu"},
	{"daman and diu", "Dadra and Nagar Haveli and Daman and Diu"},
	{"delhi", "NCT of Delhi"},
	{"jammu and kashmir", "Jammu and Kashmir"},
	{"kashmir", "Jammu and Kashmir"},
	{"ladakh", "Ladakh"},
	{"lakshadweep", "Lakshadweep"},
	{"puducherry", "Puducherry"},
	{"pondicherry", "Puducherry"},
	{"आंध्र प्रदेश", "Andhra Pradesh"},
	{"असम", "Assam"},
	{"बिहार", "Bihar"},
	{"छत्तीसगढ़", "Chhattisgarh"},
	{"गुजरात", "Gujarat"},
	{"हरियाणा", "Haryana"},
	{"हिमाचल प्रदेश", "Himachal Pradesh"},
	{"झारखंड", "Jharkhand"},
	{"कर्नाटक", "Karnataka"},
	{"केरल", "Kerala"},
	{"मध्य प्रदेश", "Madhya Pradesh"},
	{"महाराष्ट्र", "Maharashtra"},
	{"ओडिशा", "Odisha"},
	{"पंजाब", "Punjab"},
	{"राजस्थान", "Rajasthan"},
	{"तमिलनाडु", "Tamil Nadu"},
	{"तेलंगाना", "Telangana"},
	{"उत्तर प्रदेश", "Uttar Pradesh"},
	{"उत्तराखंड", "Uttarakhand"},
	{"पश्चिम बंगाल", "West Bengal"},
	{"दिल्ली", "NCT of Delhi"},
}

// commodities use the spelling of the mandi price registry.
var commodities = []alias{
	{"wheat", "Wheat"},
	{"gehun", "Wheat"},
	{"gehu", "Wheat"},
	{"गेहूं", "Wheat"},
	{"गेहूँ", "Wheat"},
	{"rice", "Rice"},
	{"chawal", "Rice"},
	{"चावल", "Rice"},
	{"onion", "Onion"},
	{"pyaz", "Onion"},
	{"pyaj", "Onion"},
	{"प्याज", "Onion"},
	{"potato", "Potato"},
	{"aloo", "Potato"},
	{"आलू", "Potato"},
	{"tomato", "Tomato"},
	{"tamatar", "Tomato"},
	{"टमाटर", "Tomato"},
	{"maize", "Maize"},
	{"makka", "Maize"},
	{"मक्का", "Maize"},
	{"cotton", "Cotton"},
	{"kapas", "Cotton"},
	{"कपास", "Cotton"},
	{"mustard", "Mustard"},
	{"sarson", "Mustard"},
	{"सरसों", "Mustard"},
	{"soybean", "Soyabean"},
	{"soyabean", "Soyabean"},
	{"garlic", "Garlic"},
	{"lahsun", "Garlic"},
	{"लहसुन", "Garlic"},
	{"banana", "Banana"},
	{"apple", "Apple"},
	{"turmeric", "Turmeric"},
	{"groundnut", "Groundnut"},
	{"sugarcane", "Sugarcane"},
}

// tutorialFiller is stripped from an utterance to leave the tutorial topic.
var tutorialFiller = []string{
	"can you", "could you", "please", "show me", "teach me", "i want to learn",
	"i want to", "how do i", "how to", "learn", "tutorials", "tutorial",
	"videos", "video", "about", "on", "some", "a", "the", "for", "me",
}
